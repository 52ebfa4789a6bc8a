package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	app "github.com/rocketscienceinc/ipd-backend/internal"
	"github.com/rocketscienceinc/ipd-backend/internal/config"
	"github.com/rocketscienceinc/ipd-backend/internal/history"
	"github.com/rocketscienceinc/ipd-backend/internal/service"
)

func newCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "ipd-backend",
		Short:         "Runs iterated prisoner's dilemma matches between authenticated participants over WebSocket.",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		Version:       version,
		RunE: func(_ *cobra.Command, _ []string) error {
			conf, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			return app.RunApp(initLogger(conf), conf, version)
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yml", "path to the config file")
	cmd.AddCommand(newProvisionCmd(&configPath))

	return cmd
}

func newProvisionCmd(configPath *string) *cobra.Command {
	var matchID string

	cmd := &cobra.Command{
		Use:   "provision <first-participant> <second-participant>",
		Short: "Creates the history log of a new match and prints its id.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			generated := matchID == ""
			if generated {
				matchID = uuid.NewString()
			}

			if err = errors.Join(
				service.ValidateIdentifier(matchID),
				service.ValidateIdentifier(args[0]),
				service.ValidateIdentifier(args[1]),
			); err != nil {
				return fmt.Errorf("failed to provision match: %w", err)
			}

			if args[0] == args[1] {
				return errors.New("failed to provision match: participants must differ")
			}

			if err = os.MkdirAll(conf.Match.HistoryDir, 0o755); err != nil {
				return fmt.Errorf("failed to create history dir: %w", err)
			}

			store := history.NewStore(conf.Match.HistoryDir)
			for {
				err = store.Create(matchID, args[0], args[1], time.Now())
				if !generated || !errors.Is(err, fs.ErrExist) {
					break
				}

				matchID = uuid.NewString()
			}

			if err != nil {
				return fmt.Errorf("failed to provision match: %w", err)
			}

			if conf.Match.RecordsFile != "" {
				if err = history.AppendRecord(conf.Match.RecordsFile, matchID, args[0], args[1]); err != nil {
					return fmt.Errorf("failed to record match: %w", err)
				}
			}

			fmt.Fprintln(cmd.OutOrStdout(), matchID)

			return nil
		},
	}

	cmd.Flags().StringVar(&matchID, "match-id", "", "id of the new match (default: random UUID)")

	return cmd
}

// loadConfig reads .env when present, then the config file.
func loadConfig(path string) (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	return config.Load(path)
}
