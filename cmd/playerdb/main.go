// Package main is the playerdb command: a maintenance daemon and admin CLI
// for the file-backed player store and coin ledger.
//
// With no arguments it serves: it opens the store, watches the data
// directory for manual edits and sweeps the record cache until interrupted.
// Subcommands expose the ledger operations, entity erasure, backups, record
// history and schema export. Configuration is read from CLI flags with
// fallbacks from a .env file in the data directory.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/playerdb/playerdb/internal/backup"
	"github.com/playerdb/playerdb/internal/docstore"
	"github.com/playerdb/playerdb/internal/history"
	"github.com/playerdb/playerdb/internal/ledger"
	"github.com/playerdb/playerdb/internal/records"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := mainImpl(); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "playerdb: %v\n", err)
		os.Exit(1)
	}
}

const usage = `usage: playerdb [flags] [command]

Commands:
  serve                              run the maintenance daemon (default)
  balance <id>                       print a player's balances
  credit <id> <amount> [pool] [reason]
  debit <id> <amount> [pool] [reason]
  transfer <from> <to> <amount>
  deposit <id> <amount>              move on-hand coins into the reserve
  withdraw <id> <amount>             move reserve coins back on-hand
  upgrade <id>                       buy the next reserve tier
  transactions <id> [n]              print a player's recent transactions
  history <id> [n]                   print a player's record change history
  erase <id>                         snapshot then delete a player's records
  backup                             write a tar.gz archive of all records
  stats [id]                         print the process-wide counters, or one player's economy stats
  schema                             print the JSON Schema of all record kinds
`

func mainImpl() error {
	dataDir := flag.String("data-dir", "./data", "Data directory")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	cacheTTL := flag.Duration("cache-ttl", 5*time.Minute, "Record cache TTL")
	lockTimeout := flag.Duration("lock-timeout", 10*time.Second, "Per-record lock timeout")
	withHistory := flag.Bool("history", false, "Record every write in a git repository over the data directory")
	backupDir := flag.String("backup-dir", "", "Directory for backup archives (default <data-dir>/backups)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage, "\nFlags:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	ll := &slog.LevelVar{}
	ll.Set(slog.LevelInfo)
	logger := slog.New(tint.NewHandler(colorable.NewColorable(os.Stderr), &tint.Options{
		Level:      ll,
		TimeFormat: "15:04:05.000", // Like time.TimeOnly plus milliseconds.
		NoColor:    !isatty.IsTerminal(os.Stderr.Fd()),
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(*dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	// Apply .env fallbacks for flags not explicitly set.
	env, err := loadDotEnv(*dataDir)
	if err != nil {
		return err
	}
	set := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})
	if !set["log-level"] {
		if v := env["LOG_LEVEL"]; v != "" {
			*logLevel = v
		}
	}
	if !set["cache-ttl"] {
		if v := env["CACHE_TTL"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid CACHE_TTL in .env: %w", err)
			}
			*cacheTTL = d
		}
	}
	if !set["lock-timeout"] {
		if v := env["LOCK_TIMEOUT"]; v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid LOCK_TIMEOUT in .env: %w", err)
			}
			*lockTimeout = d
		}
	}
	if !set["history"] {
		if v := env["HISTORY"]; v != "" {
			*withHistory = v == "1" || v == "true"
		}
	}
	if !set["backup-dir"] {
		if v := env["BACKUP_DIR"]; v != "" {
			*backupDir = v
		}
	}
	if *backupDir == "" {
		*backupDir = filepath.Join(*dataDir, "backups")
	}

	switch *logLevel {
	case "debug":
		ll.Set(slog.LevelDebug)
	case "info":
	case "warn":
		ll.Set(slog.LevelWarn)
	case "error":
		ll.Set(slog.LevelError)
	default:
		return fmt.Errorf("unknown log level: %q", *logLevel)
	}

	opts := docstore.Options{
		CacheTTL:    *cacheTTL,
		LockTimeout: *lockTimeout,
	}
	var hist *history.Repo
	if *withHistory {
		hist, err = history.Open(*dataDir)
		if err != nil {
			return err
		}
		opts.Versioner = hist
	}

	var store *docstore.Store
	opts.OnCreate = func(entityID string, kind records.Kind) {
		if kind != records.KindBalances {
			return
		}
		bumpStats(store, func(g *records.GlobalStats) {
			g.PlayersCreated++
		})
	}
	store, err = docstore.New(*dataDir, opts)
	if err != nil {
		return err
	}
	eng := ledger.New(store)

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}
	switch cmd {
	case "serve":
		return runServe(ctx, store)
	case "balance":
		return runBalance(ctx, eng, args)
	case "credit", "debit":
		return runCreditDebit(ctx, store, eng, cmd, args)
	case "transfer":
		return runTransfer(ctx, store, eng, args)
	case "deposit", "withdraw":
		return runMove(ctx, store, eng, cmd, args)
	case "upgrade":
		return runUpgrade(ctx, store, eng, args)
	case "transactions":
		return runTransactions(ctx, eng, args)
	case "history":
		return runHistory(ctx, hist, args)
	case "erase":
		return runErase(ctx, store, args)
	case "backup":
		return runBackup(ctx, store, *backupDir)
	case "stats":
		return runStats(ctx, store, eng, args)
	case "schema":
		return runSchema(os.Stdout)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// bumpStats updates the process-wide counters, best-effort: counter drift is
// preferable to failing the operation that triggered it.
func bumpStats(store *docstore.Store, fn func(*records.GlobalStats)) {
	ctx := context.Background()
	err := store.UpdateGlobal(ctx, records.KindStats, func(doc records.Doc) error {
		fn(doc.(*records.GlobalStats))
		return nil
	})
	if err != nil {
		slog.Warn("Failed to update global stats", "err", err)
	}
}

func runServe(ctx context.Context, store *docstore.Store) error {
	slog.InfoContext(ctx, "Serving", "dataDir", store.DataDir())
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return store.Watch(ctx)
	})
	g.Go(func() error {
		store.RunSweeper(ctx, time.Minute)
		return nil
	})
	err := g.Wait()
	slog.Info("Stopped")
	return err
}

func parseAmount(s string) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}

func parsePool(s string) (ledger.Pool, error) {
	switch s {
	case "", string(ledger.PoolOnHand):
		return ledger.PoolOnHand, nil
	case string(ledger.PoolReserve):
		return ledger.PoolReserve, nil
	default:
		return "", fmt.Errorf("invalid pool %q (want on-hand or reserve)", s)
	}
}

func printBalances(sum ledger.Summary) {
	fmt.Printf("on-hand:  %d\n", sum.OnHand)
	fmt.Printf("reserve:  %d / %d (tier %d)\n", sum.Reserve, sum.ReserveCapacity, sum.ReserveTier)
	fmt.Printf("lifetime: earned %d, spent %d\n", sum.LifetimeEarned, sum.LifetimeSpent)
}

func runBalance(ctx context.Context, eng *ledger.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: playerdb balance <id>")
	}
	sum, err := eng.Balances(ctx, args[0])
	if err != nil {
		return err
	}
	printBalances(sum)
	return nil
}

func runCreditDebit(ctx context.Context, store *docstore.Store, eng *ledger.Engine, cmd string, args []string) error {
	if len(args) < 2 || len(args) > 4 {
		return fmt.Errorf("usage: playerdb %s <id> <amount> [pool] [reason]", cmd)
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	pool := ledger.PoolOnHand
	if len(args) > 2 {
		if pool, err = parsePool(args[2]); err != nil {
			return err
		}
	}
	reason := "manual adjustment"
	if len(args) > 3 {
		reason = args[3]
	}
	if cmd == "credit" {
		err = eng.Credit(ctx, args[0], amount, pool, records.TxEarn, reason)
	} else {
		err = eng.Debit(ctx, args[0], amount, pool, records.TxSpend, reason)
	}
	if err != nil {
		return err
	}
	bumpStats(store, func(g *records.GlobalStats) { g.OperationsServed++ })
	sum, err := eng.Balances(ctx, args[0])
	if err != nil {
		return err
	}
	printBalances(sum)
	return nil
}

func runTransfer(ctx context.Context, store *docstore.Store, eng *ledger.Engine, args []string) error {
	if len(args) != 3 {
		return errors.New("usage: playerdb transfer <from> <to> <amount>")
	}
	amount, err := parseAmount(args[2])
	if err != nil {
		return err
	}
	if err := eng.Transfer(ctx, args[0], args[1], amount); err != nil {
		return err
	}
	bumpStats(store, func(g *records.GlobalStats) { g.OperationsServed++ })
	fmt.Printf("transferred %d from %s to %s\n", amount, args[0], args[1])
	return nil
}

func runMove(ctx context.Context, store *docstore.Store, eng *ledger.Engine, cmd string, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: playerdb %s <id> <amount>", cmd)
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	if cmd == "deposit" {
		err = eng.Deposit(ctx, args[0], amount)
	} else {
		err = eng.Withdraw(ctx, args[0], amount)
	}
	if err != nil {
		return err
	}
	bumpStats(store, func(g *records.GlobalStats) { g.OperationsServed++ })
	sum, err := eng.Balances(ctx, args[0])
	if err != nil {
		return err
	}
	printBalances(sum)
	return nil
}

func runUpgrade(ctx context.Context, store *docstore.Store, eng *ledger.Engine, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: playerdb upgrade <id>")
	}
	tier, capacity, err := eng.UpgradeReserve(ctx, args[0])
	if err != nil {
		return err
	}
	bumpStats(store, func(g *records.GlobalStats) { g.OperationsServed++ })
	fmt.Printf("reserve upgraded to tier %d (capacity %d)\n", tier, capacity)
	return nil
}

func runTransactions(ctx context.Context, eng *ledger.Engine, args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: playerdb transactions <id> [n]")
	}
	limit := 20
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q", args[1])
		}
		limit = n
	}
	txs, err := eng.History(ctx, args[0], limit)
	if err != nil {
		return err
	}
	for _, tx := range txs {
		fmt.Printf("%s  %-12s  %+6d  %s\n", tx.Time.Format(time.RFC3339), tx.Category, tx.Amount, tx.Reason)
	}
	return nil
}

func runHistory(ctx context.Context, hist *history.Repo, args []string) error {
	if hist == nil {
		return errors.New("record history requires -history")
	}
	if len(args) < 1 || len(args) > 2 {
		return errors.New("usage: playerdb history <id> [n]")
	}
	limit := 20
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid count %q", args[1])
		}
		limit = n
	}
	commits, err := hist.Log(ctx, args[0], limit)
	if err != nil {
		return err
	}
	for _, c := range commits {
		fmt.Printf("%s  %s  %s\n", c.Hash[:12], c.When.Format(time.RFC3339), c.Message)
	}
	return nil
}

func runErase(ctx context.Context, store *docstore.Store, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: playerdb erase <id>")
	}
	if err := store.EraseEntity(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("erased %s\n", args[0])
	return nil
}

func runBackup(ctx context.Context, store *docstore.Store, destDir string) error {
	path, err := backup.Create(ctx, store.DataDir(), destDir)
	if err != nil {
		return err
	}
	bumpStats(store, func(g *records.GlobalStats) { g.LastBackup = time.Now().UTC() })
	fmt.Println(path)
	return nil
}

func runStats(ctx context.Context, store *docstore.Store, eng *ledger.Engine, args []string) error {
	if len(args) > 1 {
		return errors.New("usage: playerdb stats [id]")
	}
	if len(args) == 1 {
		st, err := eng.Stats(ctx, args[0])
		if err != nil {
			return err
		}
		printBalances(st.Summary)
		fmt.Printf("total:    %d (net worth %d)\n", st.Total, st.NetWorth)
		fmt.Printf("log:      %d transactions, largest +%d / -%d\n", st.TransactionCount, st.LargestCredit, st.LargestDebit)
		for _, cat := range []records.TxCategory{
			records.TxEarn, records.TxSpend, records.TxTransferIn, records.TxTransferOut,
			records.TxDeposit, records.TxWithdraw, records.TxRefund, records.TxUpgrade,
		} {
			if v, ok := st.ByCategory[cat]; ok {
				fmt.Printf("  %-12s %+d\n", cat, v)
			}
		}
		return nil
	}
	doc, err := store.Global(ctx, records.KindStats)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			doc = records.NewGlobalStats()
		} else {
			return err
		}
	}
	g := doc.(*records.GlobalStats)
	fmt.Printf("players created:   %d\n", g.PlayersCreated)
	fmt.Printf("operations served: %d\n", g.OperationsServed)
	if !g.LastBackup.IsZero() {
		fmt.Printf("last backup:       %s\n", g.LastBackup.Format(time.RFC3339))
	}
	return nil
}

// runSchema prints a JSON Schema per record kind so external tooling can
// validate the YAML files.
func runSchema(w io.Writer) error {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	schemas := map[string]*jsonschema.Schema{}
	for _, kind := range records.PlayerKinds() {
		doc, err := records.New(kind)
		if err != nil {
			return err
		}
		schemas[string(kind)] = r.Reflect(doc)
	}
	schemas[string(records.KindStats)] = r.Reflect(records.NewGlobalStats())
	out, err := json.MarshalIndent(schemas, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}

func loadDotEnv(dataDir string) (map[string]string, error) {
	env := make(map[string]string)
	path := filepath.Join(dataDir, ".env")
	envContent, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir flag, not user input
	if err != nil {
		if os.IsNotExist(err) {
			return env, nil
		}
		return nil, err
	}

	for line := range strings.SplitSeq(string(envContent), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])

		if strings.HasPrefix(val, "'") || strings.HasSuffix(val, "'") {
			if strings.HasPrefix(val, "'") && strings.HasSuffix(val, "'") {
				return nil, fmt.Errorf("single quotes are not supported for wrapping in .env: %s", line)
			}
			return nil, fmt.Errorf("unbalanced single quotes in .env: %s", line)
		}

		if strings.HasPrefix(val, "\"") {
			unquoted, err := strconv.Unquote(val)
			if err != nil {
				return nil, fmt.Errorf("failed to unquote %s: %w", key, err)
			}
			val = unquoted
		}

		env[key] = val
	}
	return env, nil
}
