package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/flow23flow23/artistrm-360-sub002/internal/bootstrap"
	"github.com/flow23flow23/artistrm-360-sub002/internal/domain"
	"github.com/flow23flow23/artistrm-360-sub002/internal/store"
	"github.com/spf13/cobra"
)

var (
	transcriptJSON bool
	transcriptUser string
)

var transcriptCmd = &cobra.Command{
	Use:   "transcript [session-id]",
	Short: "Print the stored transcript of a session",
	Long: `Print the stored transcript of a session.

With --user and no session id, the artist's latest session is printed.

Examples:
  zeusctl transcript 0b6a3c1e-...
  zeusctl transcript --user artist_cli --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		repo, err := bootstrap.OpenRepository(cfg, logger)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer func() { _ = repo.Close() }()

		ctx := cmd.Context()
		var session *domain.Session
		switch {
		case len(args) == 1:
			session, err = repo.GetSession(ctx, args[0])
		case transcriptUser != "":
			session, err = repo.LatestSession(ctx, transcriptUser)
		default:
			return errors.New("a session id or --user is required")
		}
		if errors.Is(err, store.ErrNotFound) {
			return errors.New("session not found")
		}
		if err != nil {
			return err
		}

		turns, err := repo.Turns(ctx, session.SessionID)
		if err != nil {
			return fmt.Errorf("load transcript: %w", err)
		}
		return printTranscript(cmd.OutOrStdout(), session, turns, transcriptJSON)
	},
}

func init() {
	transcriptCmd.Flags().BoolVar(&transcriptJSON, "json", false, "print as JSON")
	transcriptCmd.Flags().StringVarP(&transcriptUser, "user", "u", "", "print the latest session of this artist")
}

func printTranscript(out io.Writer, session *domain.Session, turns []domain.Turn, asJSON bool) error {
	if asJSON {
		if turns == nil {
			turns = []domain.Turn{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{
			"session": session,
			"turns":   turns,
		})
	}

	fmt.Fprintf(out, "Session %s (user %s, %s, created %s)\n",
		session.SessionID, session.UserID, session.Origin, session.CreatedAt.Format(time.RFC3339))
	for _, t := range turns {
		fmt.Fprintf(out, "%s  %-9s %-9s %s\n", t.Timestamp.Format("15:04:05"), t.Role, t.Status, t.Content)
	}
	return nil
}
