package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/RyanBlaney/sonido-follow/relay"
	"github.com/RyanBlaney/sonido-follow/score"
)

var (
	scoreJSON bool
	scoreList bool
)

func init() {
	addScoreFlags(scoreCmd)
	scoreCmd.Flags().BoolVar(&scoreJSON, "json", false, "print the score as JSON")
	scoreCmd.Flags().BoolVar(&scoreList, "list", false, "list the built-in pieces")
	rootCmd.AddCommand(scoreCmd)
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Print the subdivided score, coarse mapping and accompaniment",
	RunE: func(cmd *cobra.Command, args []string) error {
		if scoreList {
			for _, name := range score.BuiltinNames() {
				fmt.Println(name)
			}
			return nil
		}

		s, err := loadScore()
		if err != nil {
			return err
		}
		if scoreJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(relay.ScoreView{Summary: s.Summary(), Events: s.Subdivided()})
		}
		return printScore(s)
	},
}

func printScore(s *score.Score) error {
	sum := s.Summary()
	fmt.Printf("%s: %d notes, %d events, %g BPM, sub-beat %g\n\n", sum.Title, sum.Notes, sum.Events, sum.Tempo, sum.SubBeat)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "EVENT\tNOTE\tPITCH\tACCOMPANIMENT")
	for i := 0; i < s.N(); i++ {
		n, _ := s.Event(i)
		marker := ""
		if n.IsStart {
			marker = "*"
		}

		keys := s.AccompanimentKeys(i)
		names := make([]string, len(keys))
		for k, key := range keys {
			names[k] = "-"
			if key >= 0 {
				names[k] = score.KeyName(key)
			}
		}
		fmt.Fprintf(w, "%d\t%d\t%s%s\t%s\n", i, s.TrueNoteEvent(i), n.Pitch, marker, strings.Join(names, " "))
	}
	return w.Flush()
}
