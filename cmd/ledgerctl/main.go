// Command ledgerctl runs maintenance tasks against the loan ledger database.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mcclellann/microloan/pkg/config"
	"github.com/mcclellann/microloan/pkg/ledger"
	"github.com/mcclellann/microloan/pkg/money"
	"github.com/mcclellann/microloan/pkg/store"
	"github.com/shopspring/decimal"
)

const usage = `Usage: ledgerctl [-db path] <command> [options]

Commands:
  seed                  create sample borrowers, loans and payments
  refresh-statuses      re-derive and store every installment status as of today
  rebuild-schedules     regenerate schedules whose first installment falls in the start month
                        (dry run unless -apply is given)
  round-amounts         round fractional loan totals and installments to whole units
                        (dry run unless -apply is given)
`

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	if err := run(context.Background(), cfg, os.Args[1:], os.Stdout, time.Now); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer, now func() time.Time) error {
	global := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	global.SetOutput(out)
	global.Usage = func() { fmt.Fprint(out, usage) }
	dbPath := global.String("db", cfg.DatabasePath, "path to the SQLite database")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return fmt.Errorf("no command given")
	}

	sqliteStore, err := store.NewSQLiteStore(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", *dbPath, err)
	}
	defer sqliteStore.Close()
	l := ledger.NewLedger(sqliteStore, ledger.WithClock(now))

	command, rest := global.Arg(0), global.Args()[1:]
	switch command {
	case "seed":
		return seed(ctx, l, out)
	case "refresh-statuses":
		changed, err := l.RefreshStatuses(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "updated %d installment statuses\n", changed)
		return nil
	case "rebuild-schedules":
		fs := flag.NewFlagSet("rebuild-schedules", flag.ContinueOnError)
		fs.SetOutput(out)
		apply := fs.Bool("apply", false, "regenerate the schedules instead of only listing them")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return rebuildSchedules(ctx, l, out, *apply)
	case "round-amounts":
		fs := flag.NewFlagSet("round-amounts", flag.ContinueOnError)
		fs.SetOutput(out)
		apply := fs.Bool("apply", false, "round the amounts instead of only listing them")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return roundAmounts(ctx, l, out, *apply)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func rebuildSchedules(ctx context.Context, l *ledger.Ledger, out io.Writer, apply bool) error {
	loans, err := l.MisalignedLoans()
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		fmt.Fprintln(out, "no schedules need rebuilding")
		return nil
	}

	rebuilt, skipped := 0, 0
	for _, loan := range loans {
		paid, err := l.PaidAmount(loan.ID)
		if err != nil {
			return err
		}
		if paid.IsPositive() {
			fmt.Fprintf(out, "skip %s: %s already paid\n", loan.ID, money.Format(paid))
			skipped++
			continue
		}
		if !apply {
			fmt.Fprintf(out, "would rebuild %s (start %s)\n", loan.ID, loan.StartDate.Format(time.DateOnly))
			continue
		}
		_, installments, err := l.RebuildLoan(ctx, loan.ID, ledger.TermsOf(loan))
		if err != nil {
			return fmt.Errorf("loan %s: %w", loan.ID, err)
		}
		fmt.Fprintf(out, "rebuilt %s: first installment due %s\n", loan.ID, installments[0].DueDate.Format(time.DateOnly))
		rebuilt++
	}
	if !apply {
		fmt.Fprintln(out, "dry run; pass -apply to rebuild")
		return nil
	}
	fmt.Fprintf(out, "rebuilt %d, skipped %d\n", rebuilt, skipped)
	return nil
}

func roundAmounts(ctx context.Context, l *ledger.Ledger, out io.Writer, apply bool) error {
	loans, err := l.UnroundedLoans()
	if err != nil {
		return err
	}
	if len(loans) == 0 {
		fmt.Fprintln(out, "no loans need rounding")
		return nil
	}

	for _, loan := range loans {
		fmt.Fprintf(out, "loan %s: total %s, installment %s\n", loan.ID, loan.TotalAmount, loan.MonthlyInstallment)
	}
	if !apply {
		fmt.Fprintln(out, "dry run; pass -apply to round")
		return nil
	}
	for _, loan := range loans {
		rounded, err := l.RoundLoanAmounts(ctx, loan.ID)
		if err != nil {
			return fmt.Errorf("loan %s: %w", loan.ID, err)
		}
		fmt.Fprintf(out, "rounded %s: total %s, installment %s\n",
			loan.ID, money.Format(rounded.TotalAmount), money.Format(rounded.MonthlyInstallment))
	}
	fmt.Fprintf(out, "rounded %d loans\n", len(loans))
	return nil
}

type seedLoan struct {
	principal int64
	rate      int64
	tenure    int
	monthsAgo int
	day       int
	paid      int // installments settled with QuickPay
}

var seedBorrowers = []struct {
	input ledger.BorrowerInput
	loans []seedLoan
}{
	{
		input: ledger.BorrowerInput{Name: "Asha Verma", Phone: "9876543210", Email: "asha@example.com", Address: "12 Market Road, Pune"},
		loans: []seedLoan{{principal: 50000, rate: 18, tenure: 12, monthsAgo: 4, day: 5, paid: 3}},
	},
	{
		input: ledger.BorrowerInput{Name: "Ravi Kumar", Phone: "9123456780", Address: "4 Station Lane, Nashik"},
		loans: []seedLoan{
			{principal: 100000, rate: 24, tenure: 12, monthsAgo: 3, day: 31, paid: 1},
			{principal: 12000, rate: 0, tenure: 2, monthsAgo: 3, day: 10, paid: 2},
		},
	},
	{
		input: ledger.BorrowerInput{Name: "Meena Iyer", Phone: "9988776655", Email: "meena@example.com", Address: "88 Temple Street, Madurai"},
		loans: []seedLoan{{principal: 25000, rate: 12, tenure: 6, monthsAgo: 1, day: 15}},
	},
}

func seed(ctx context.Context, l *ledger.Ledger, out io.Writer) error {
	today := l.Today()
	for _, sb := range seedBorrowers {
		borrower, err := l.CreateBorrower(sb.input)
		if err != nil {
			return err
		}
		for _, sl := range sb.loans {
			loan, installments, err := l.OriginateLoan(ctx, ledger.LoanTerms{
				BorrowerID:        borrower.ID,
				Principal:         decimal.NewFromInt(sl.principal),
				AnnualRatePercent: decimal.NewFromInt(sl.rate),
				TenureMonths:      sl.tenure,
				StartDate:         today.AddDate(0, -sl.monthsAgo, 0),
				InstallmentDay:    sl.day,
			})
			if err != nil {
				return err
			}
			for _, inst := range installments[:sl.paid] {
				if _, err := l.QuickPay(ctx, inst.ID); err != nil {
					return err
				}
			}
			fmt.Fprintf(out, "seeded loan %s for %s: %s over %d months\n",
				loan.ID, borrower.Name, money.Format(loan.TotalAmount), loan.TenureMonths)
		}
	}
	return nil
}
