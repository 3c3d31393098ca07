package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/William-King977/TaweLib/internal/config"
	"github.com/William-King977/TaweLib/internal/logging"
	"github.com/William-King977/TaweLib/internal/metrics"
	"github.com/William-King977/TaweLib/library"

	"github.com/spf13/cobra"
)

// app carries what every command needs once the root pre-run has opened
// the library.
type app struct {
	configPath  string
	as          string
	dumpMetrics bool

	cfg config.Config
	log *slog.Logger
	rec *metrics.Recorder
	lm  *library.LibraryManager
}

func main() {
	a := &app{}
	if err := a.execute(a.rootCmd()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs root and closes whatever its pre-run opened, whether or not
// the command succeeded.
func (a *app) execute(root *cobra.Command) error {
	err := root.Execute()
	if cerr := a.close(root); err == nil {
		err = cerr
	}
	return err
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "tawelib",
		Short:         "TaweLib library records: members, loans, fines and requests",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.open()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("TAWELIB_CONFIG"), "path to a YAML config file")
	root.PersistentFlags().StringVar(&a.as, "as", os.Getenv("TAWELIB_USER"), "username to act as")
	root.PersistentFlags().BoolVar(&a.dumpMetrics, "metrics", false, "print collected metrics on exit")

	root.AddCommand(
		a.usersCmd(),
		a.finesCmd(),
		a.loansCmd(),
		a.transactionsCmd(),
		a.requestsCmd(),
		a.verifyCmd(),
		a.backupCmd(),
		a.shellCmd(),
	)
	return root
}

func (a *app) open() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logging.Setup(cfg.LogLevel)
	a.rec = metrics.New()

	lc, err := cfg.Library()
	if err != nil {
		return err
	}
	lc.Logger = a.log
	lc.Observer = a.rec
	lm, err := library.NewLibraryManager(lc)
	if err != nil {
		return fmt.Errorf("open library in %s: %w", cfg.DataDir, err)
	}
	a.lm = lm
	return nil
}

func (a *app) close(cmd *cobra.Command) error {
	if a.lm == nil {
		return nil
	}
	err := a.lm.Close()
	a.lm = nil
	if a.dumpMetrics {
		if werr := a.rec.WriteText(cmd.ErrOrStderr()); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// session logs in as --as. Without it the session is anonymous, which only
// registering the very first librarian accepts.
func (a *app) session() (library.Session, error) {
	if a.as == "" {
		return library.Session{}, nil
	}
	sess, err := a.lm.Login(a.as)
	if err != nil {
		return library.Session{}, fmt.Errorf("login as %s: %w", a.as, err)
	}
	return sess, nil
}
