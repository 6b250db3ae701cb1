// Command credits inspects and adjusts owner credit balances.
//
//	credits grant -owner <id> -credits <n> -ref <payment id>
//	credits balance -owner <id>
//	credits entries -owner <id> [-limit n]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"reelgen/internal/adapter/repo"
	"reelgen/internal/infra"
	"reelgen/internal/ledger"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	cmd, args := os.Args[1], os.Args[2:]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	ownerFlag := fs.String("owner", "", "owner ID")
	creditsFlag := fs.Int64("credits", 0, "credits to grant (grant)")
	refFlag := fs.String("ref", "", "payment reference; repeated grants with the same ref are ignored (grant)")
	limitFlag := fs.Int("limit", 20, "number of entries to show, 0 for all (entries)")
	_ = fs.Parse(args)

	owner := strings.TrimSpace(*ownerFlag)
	if owner == "" {
		exitWithError(errors.New("-owner is required"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		exitWithError(errors.New("DATABASE_URL is required"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := infra.NewDBPool(ctx, &infra.Config{DatabaseURL: dbURL, DBMaxConns: 2})
	if err != nil {
		exitWithError(fmt.Errorf("failed to connect database: %w", err))
	}
	defer pool.Close()

	logger := infra.NewLogger("cli", os.Getenv("LOG_LEVEL"), "").With().Str("cmd", "credits").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	svc := ledger.NewService(repo.NewLedgerRepository(runner), logger, ledger.Options{})

	switch cmd {
	case "grant":
		ref := strings.TrimSpace(*refFlag)
		if *creditsFlag <= 0 || ref == "" {
			exitWithError(errors.New("grant needs -credits > 0 and -ref"))
		}
		applied, err := svc.Credit(ctx, owner, *creditsFlag, ref)
		if err != nil {
			exitWithError(fmt.Errorf("grant failed: %w", err))
		}
		if !applied {
			fmt.Printf("reference %s already granted, nothing changed\n", ref)
		} else {
			fmt.Printf("granted %d credits to %s (ref %s)\n", *creditsFlag, owner, ref)
		}
		printBalance(ctx, svc, owner)
	case "balance":
		printBalance(ctx, svc, owner)
	case "entries":
		entries, err := svc.Entries(ctx, owner, *limitFlag)
		if err != nil {
			exitWithError(fmt.Errorf("list entries: %w", err))
		}
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "CREATED\tKIND\tAMOUNT\tREFERENCE")
		for _, e := range entries {
			ref := "-"
			if e.ExternalReference != nil {
				ref = *e.ExternalReference
			}
			fmt.Fprintf(tw, "%s\t%s\t%+d\t%s\n", e.CreatedAt.Format(time.RFC3339), e.Kind, e.Amount, ref)
		}
		_ = tw.Flush()
	default:
		usage()
		os.Exit(2)
	}
}

func printBalance(ctx context.Context, svc *ledger.Service, owner string) {
	balance, err := svc.Balance(ctx, owner)
	if err != nil {
		exitWithError(fmt.Errorf("read balance: %w", err))
	}
	fmt.Printf("balance for %s: %d\n", owner, balance)
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: credits <grant|balance|entries> -owner <id> [flags]")
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
