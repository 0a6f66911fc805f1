package cli

import (
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"ipguard/internal/models"
)

var blockReason string

var blockCmd = &cobra.Command{
	Use:   "block <ip>",
	Short: "Add an IP address to the blocklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entry models.BlockedIP
		err := newClient().do(http.MethodPost, "/api/v1/blocked",
			models.BlockRequest{IPAddress: args[0], Reason: blockReason},
			http.StatusCreated, &entry)
		if err != nil {
			return err
		}
		fmt.Printf("Blocked %s: %s\n", entry.IPAddress, entry.Reason)
		return nil
	},
}

var unblockCmd = &cobra.Command{
	Use:   "unblock <ip>",
	Short: "Remove an IP address from the blocklist",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		err := newClient().do(http.MethodDelete, "/api/v1/blocked/"+args[0],
			nil, http.StatusNoContent, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Unblocked %s\n", args[0])
		return nil
	},
}

var blockedCmd = &cobra.Command{
	Use:   "blocked",
	Short: "List the blocklist",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp models.ListBlockedResponse
		err := newClient().do(http.MethodGet, "/api/v1/blocked",
			nil, http.StatusOK, &resp)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "IP\tBLOCKED AT\tREASON")
		for _, entry := range resp.Blocked {
			fmt.Fprintf(w, "%s\t%s\t%s\n",
				entry.IPAddress, entry.CreatedAt.Format("2006-01-02 15:04:05"), entry.Reason)
		}
		w.Flush()
		fmt.Printf("%d blocked\n", resp.TotalCount)
		return nil
	},
}

var flagsActiveOnly bool

var flagsCmd = &cobra.Command{
	Use:   "flags",
	Short: "List suspicion flags",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/api/v1/flags"
		if flagsActiveOnly {
			path += "?active=true"
		}

		var resp models.ListFlagsResponse
		err := newClient().do(http.MethodGet, path, nil, http.StatusOK, &resp)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "IP\tREASON\tCOUNT\tACTIVE\tLAST SEEN")
		for _, f := range resp.Flags {
			fmt.Fprintf(w, "%s\t%s\t%d\t%t\t%s\n",
				f.IPAddress, f.Reason, f.RequestCount, f.IsActive,
				f.LastSeen.Format("2006-01-02 15:04:05"))
		}
		w.Flush()
		fmt.Printf("%d flags\n", resp.TotalCount)
		return nil
	},
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Trigger an on-demand detection scan",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp models.ScanResponse
		err := newClient().do(http.MethodPost, "/api/v1/scan",
			nil, http.StatusOK, &resp)
		if err != nil {
			return err
		}

		if len(resp.Findings) == 0 {
			fmt.Println("Scan complete, no findings")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
		fmt.Fprintln(w, "IP\tREASON\tCOUNT")
		for _, f := range resp.Findings {
			fmt.Fprintf(w, "%s\t%s\t%d\n", f.IPAddress, f.Reason, f.Count)
		}
		w.Flush()
		fmt.Printf("Scan complete, %d findings\n", len(resp.Findings))
		return nil
	},
}

func init() {
	blockCmd.Flags().StringVar(&blockReason, "reason", "",
		"Reason recorded with the block entry")
	flagsCmd.Flags().BoolVar(&flagsActiveOnly, "active", false,
		"Show only active flags")

	rootCmd.AddCommand(blockCmd, unblockCmd, blockedCmd, flagsCmd, scanCmd)
}
