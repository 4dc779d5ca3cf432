package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List stored sessions",
	Run: func(cmd *cobra.Command, args []string) {
		s := getStore()
		defer s.Close()

		sessions, err := s.ListSessions()
		if err != nil {
			fmt.Printf("Failed to list sessions: %v\n", err)
			os.Exit(1)
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions yet.")
			return
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tUSER\tSTATUS\tMESSAGES\tLAST ACTIVE")
		for _, sess := range sessions {
			count, _ := s.CountMessages(sess.ID)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				sess.ID, sess.Username, sess.Status, count, sess.LastActive.Format("2006-01-02 15:04"))
		}
		w.Flush()
	},
}

func init() {
	RootCmd.AddCommand(sessionsCmd)
}
