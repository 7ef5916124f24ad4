// Command visitctl inspects and maintains stored visit records from the
// command line. Storage is selected with the same VISITMAP_* environment
// variables the server uses.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"visitmap/internal/core"
	"visitmap/pkg/domain"
)

var (
	exitFunc  = os.Exit
	openStore = core.OpenVisitStore
)

const usage = `usage: visitctl <command> [flags]

commands:
  get      -id ID                                       print the stored record
  import   -id ID [-load] [-save] [-as-of YYYY-MM-DD] FILE...
                                                        merge upload files and print the summary
  stats    -id ID [-as-of YYYY-MM-DD]                   print the per-facility summary
  migrate  -id ID FILE                                  save a legacy record file in the current shape
  list                                                  print every stored netId
  delete   -id ID                                       remove the stored record
`

func main() {
	code := cli(os.Args[1:], os.Stdout, os.Stderr)
	exitFunc(code)
}

func cli(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	var cmd func(context.Context, []string, io.Writer, io.Writer) int
	switch args[0] {
	case "get":
		cmd = runGet
	case "import":
		cmd = runImport
	case "stats":
		cmd = runStats
	case "migrate":
		cmd = runMigrate
	case "list":
		cmd = runList
	case "delete":
		cmd = runDelete
	case "-h", "-help", "--help", "help":
		_, _ = fmt.Fprint(stdout, usage)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}
	return cmd(context.Background(), args[1:], stdout, stderr)
}

func newFlagSet(name string, stderr io.Writer) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet("visitctl "+name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.String("id", "", "netId the record is stored under")
	return fs, id
}

// openService wires the configured store into a service that logs to stderr.
func openService(ctx context.Context, stderr io.Writer) (*core.Service, func(), error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	logger := core.NewSlogLogger(stderr, os.Getenv("VISITMAP_LOG_LEVEL"))
	svc := core.NewService(store, core.WithLogger(logger))
	return svc, func() { _ = core.CloseStore(store) }, nil
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintf(stderr, "visitctl: %v\n", err)
	return 1
}

func requireID(fs *flag.FlagSet, id string) bool {
	if id != "" {
		return true
	}
	_, _ = fmt.Fprintln(fs.Output(), "-id is required")
	fs.Usage()
	return false
}

func runGet(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, id := newFlagSet("get", stderr)
	if err := fs.Parse(args); err != nil || !requireID(fs, *id) {
		return 2
	}
	svc, closeFn, err := openService(ctx, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer closeFn()
	rec, err := svc.Load(ctx, *id)
	if err != nil {
		return fail(stderr, err)
	}
	if err := writeJSON(stdout, struct {
		NetID  string             `json:"netId"`
		Visits domain.VisitRecord `json:"visits"`
	}{*id, rec}); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runImport(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, id := newFlagSet("import", stderr)
	load := fs.Bool("load", false, "merge the stored record before printing")
	save := fs.Bool("save", false, "persist the merged record")
	asOf := fs.String("as-of", "", "summary reference date (default today)")
	if err := fs.Parse(args); err != nil || !requireID(fs, *id) {
		return 2
	}
	if fs.NArg() == 0 && !*load {
		_, _ = fmt.Fprintln(stderr, "import needs at least one FILE or -load")
		return 2
	}
	ref, err := parseAsOf(*asOf)
	if err != nil {
		return fail(stderr, err)
	}
	svc, closeFn, err := openService(ctx, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer closeFn()

	sess := core.NewSession(svc, *id)
	for _, path := range fs.Args() {
		data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
		if err != nil {
			return fail(stderr, err)
		}
		shape, err := sess.IngestJSON(data)
		if err != nil {
			return fail(stderr, fmt.Errorf("%s: %w", path, err))
		}
		_, _ = fmt.Fprintf(stderr, "ingested %s (%s)\n", path, shape)
	}
	if *load {
		found, err := sess.Load(ctx)
		if err != nil {
			return fail(stderr, err)
		}
		if !found {
			_, _ = fmt.Fprintf(stderr, "no stored record for %s\n", *id)
		}
	}
	if *save {
		if err := sess.Save(ctx); err != nil {
			return fail(stderr, err)
		}
		_, _ = fmt.Fprintf(stderr, "saved %d days for %s\n", len(sess.Record()), *id)
	}
	if err := writeSummary(stdout, sess.Summary(ref)); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runStats(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, id := newFlagSet("stats", stderr)
	asOf := fs.String("as-of", "", "reference date (default today)")
	if err := fs.Parse(args); err != nil || !requireID(fs, *id) {
		return 2
	}
	ref, err := parseAsOf(*asOf)
	if err != nil {
		return fail(stderr, err)
	}
	svc, closeFn, err := openService(ctx, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer closeFn()
	sum, err := svc.Summary(ctx, *id, ref)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "%s as of %s\n", sum.NetID, sum.AsOf)
	if err := writeSummary(stdout, sum.Facilities); err != nil {
		return fail(stderr, err)
	}
	return 0
}

func runMigrate(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, id := newFlagSet("migrate", stderr)
	if err := fs.Parse(args); err != nil || !requireID(fs, *id) {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "migrate needs exactly one FILE")
		return 2
	}
	data, err := os.ReadFile(fs.Arg(0)) // #nosec G304 -- operator supplied path
	if err != nil {
		return fail(stderr, err)
	}
	var payload domain.RecordPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fail(stderr, fmt.Errorf("parse %s: %w", fs.Arg(0), err))
	}
	if payload.Shape != domain.ShapeLegacy {
		_, _ = fmt.Fprintf(stderr, "%s is already in the current shape; saving as is\n", fs.Arg(0))
	}
	svc, closeFn, err := openService(ctx, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer closeFn()
	saved, err := svc.Save(ctx, *id, payload)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "migrated %d days for %s (%d stored)\n", payload.Len(), *id, len(saved))
	return 0
}

func runList(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("visitctl list", flag.ContinueOnError)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	svc, closeFn, err := openService(ctx, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer closeFn()
	ids, err := svc.List(ctx)
	if err != nil {
		return fail(stderr, err)
	}
	for _, id := range ids {
		_, _ = fmt.Fprintln(stdout, id)
	}
	return 0
}

func runDelete(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs, id := newFlagSet("delete", stderr)
	if err := fs.Parse(args); err != nil || !requireID(fs, *id) {
		return 2
	}
	svc, closeFn, err := openService(ctx, stderr)
	if err != nil {
		return fail(stderr, err)
	}
	defer closeFn()
	if err := svc.Delete(ctx, *id); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "deleted %s\n", *id)
	return 0
}

func parseAsOf(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	d, err := domain.ParseDate(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("-as-of: %w", err)
	}
	return d.Time(), nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeSummary prints the active facility rows as an aligned table.
func writeSummary(w io.Writer, rows []domain.FacilitySummary) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FACILITY\tLAST MONTH\tTHIS MONTH\tTOTAL\tLONGEST\tCURRENT\t")
	for _, r := range rows {
		if !r.Active {
			continue
		}
		hot := ""
		if r.HotStreak {
			hot = " (hot)"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d%s\t%d\t\n",
			r.Code, r.LastMonth, r.ThisMonth, r.Total, r.LongestStreak, hot, r.CurrentStreak)
	}
	return tw.Flush()
}
