// Command pagedb is an interactive harness for the storage engine.
//
// It opens an engine over a directory and accepts one command per line:
//
//	create <table> <col:TYPE[:constraint,..]> ...
//	drop <table>
//	insert <table> <v1|v2|...>
//	read <page> <slot>
//	update <page> <slot> <v1|v2|...>
//	delete <page> <slot>
//	scan <table>
//	index <name> <table> <column> [unique]
//	find <index> <value>
//	range <index> <low> <high>
//	import <sqlite-file> <table>
//	stats | flush | help | quit
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/SimonWaldherr/pagedb"
	"github.com/SimonWaldherr/pagedb/internal/importer"
	"github.com/SimonWaldherr/pagedb/internal/storage"
)

var (
	flagDir        = flag.String("dir", "data", "Base directory for data.db and meta sidecars")
	flagConfig     = flag.String("config", "", "Optional YAML config file (overrides other flags)")
	flagCapacity   = flag.Int("capacity", 64, "Buffer pool capacity in frames")
	flagPolicy     = flag.String("policy", "lru", "Replacement policy: lru or fifo")
	flagTrace      = flag.Bool("trace", false, "Log every structural storage event")
	flagMetrics    = flag.String("metrics", "", "Serve Prometheus metrics on this address (e.g. :9188)")
	flagFlushEvery = flag.String("flush-every", "", "Cron spec for periodic flush_all (e.g. '@every 30s')")
)

func main() {
	flag.Parse()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if *flagTrace {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg := pagedb.Config{
		Dir:            *flagDir,
		BufferCapacity: *flagCapacity,
		Policy:         *flagPolicy,
	}
	if *flagConfig != "" {
		loaded, err := pagedb.LoadConfig(*flagConfig)
		if err != nil {
			logger.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	}
	cfg.Tracer = storage.ZerologTracer(logger)

	db, err := pagedb.Open(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("open engine")
	}
	defer db.Close()
	logger.Info().Str("dir", cfg.Dir).Msg("engine open")

	if *flagMetrics != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(storage.NewStatsCollector(db.Engine()))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*flagMetrics, mux); err != nil {
				logger.Error().Err(err).Msg("metrics listener")
			}
		}()
		logger.Info().Str("addr", *flagMetrics).Msg("metrics listening")
	}

	var sched *cron.Cron
	if *flagFlushEvery != "" {
		sched = cron.New()
		if _, err := sched.AddFunc(*flagFlushEvery, func() {
			if err := db.FlushAll(); err != nil {
				logger.Error().Err(err).Msg("scheduled flush")
				return
			}
			logger.Info().Msg("scheduled flush done")
		}); err != nil {
			logger.Fatal().Err(err).Str("spec", *flagFlushEvery).Msg("bad flush schedule")
		}
		sched.Start()
		defer sched.Stop()
	}

	repl(db, logger)
}

func repl(db *pagedb.DB, logger zerolog.Logger) {
	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 1024), 1024*1024)
	fmt.Println("pagedb. 'help' lists commands, 'quit' exits.")
	for {
		fmt.Print("pagedb> ")
		if !sc.Scan() {
			return
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		cmd, args := strings.ToLower(fields[0]), fields[1:]
		switch cmd {
		case "quit", "exit":
			return
		case "help":
			printHelp()
		case "create":
			cmdCreate(db, args)
		case "drop":
			cmdDrop(db, args)
		case "insert":
			cmdInsert(db, args)
		case "read":
			cmdRead(db, args)
		case "update":
			cmdUpdate(db, args)
		case "delete":
			cmdDelete(db, args)
		case "scan":
			cmdScan(db, args)
		case "index":
			cmdIndex(db, args)
		case "find":
			cmdFind(db, args)
		case "range":
			cmdRange(db, args)
		case "import":
			cmdImport(db, args, logger)
		case "stats":
			s := db.Stats()
			fmt.Printf("hits=%d misses=%d evictions=%d flushes=%d\n",
				s.Hits, s.Misses, s.Evictions, s.Flushes)
		case "flush":
			if err := db.FlushAll(); err != nil {
				fmt.Println("ERR:", err)
			} else {
				fmt.Println("ok")
			}
		default:
			fmt.Println("unknown command; try 'help'")
		}
	}
}

func printHelp() {
	fmt.Print(`commands:
  create <table> <col:TYPE[:constraint,..]> ...
  drop <table>
  insert <table> <v1|v2|...>
  read <page> <slot>
  update <page> <slot> <v1|v2|...>
  delete <page> <slot>
  scan <table>
  index <name> <table> <column> [unique]
  find <index> <value>
  range <index> <low> <high>
  import <sqlite-file> <table>
  stats | flush | quit
`)
}

func parseRID(args []string) (pagedb.RID, bool) {
	if len(args) < 2 {
		return pagedb.RID{}, false
	}
	pid, err1 := strconv.ParseUint(args[0], 10, 32)
	slot, err2 := strconv.ParseUint(args[1], 10, 16)
	if err1 != nil || err2 != nil {
		return pagedb.RID{}, false
	}
	return pagedb.RID{PageID: pagedb.PageID(pid), SlotID: uint16(slot)}, true
}

func cmdCreate(db *pagedb.DB, args []string) {
	if len(args) < 1 {
		fmt.Println("usage: create <table> [col:TYPE ...]")
		return
	}
	var cols []pagedb.Column
	for _, spec := range args[1:] {
		parts := strings.SplitN(spec, ":", 3)
		if len(parts) < 2 {
			fmt.Printf("bad column spec %q\n", spec)
			return
		}
		col := pagedb.Column{Name: parts[0], Type: storage.ParseDataType(parts[1])}
		if len(parts) == 3 {
			col.Constraints = strings.Split(parts[2], ",")
		}
		cols = append(cols, col)
	}
	tid, err := db.CreateTable(args[0], cols)
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	fmt.Printf("table %s = id %d\n", args[0], tid)
}

func cmdDrop(db *pagedb.DB, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: drop <table>")
		return
	}
	ok, err := db.DropTable(args[0])
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	fmt.Println("dropped:", ok)
}

func cmdInsert(db *pagedb.DB, args []string) {
	if len(args) < 2 {
		fmt.Println("usage: insert <table> <v1|v2|...>")
		return
	}
	tid := db.TableID(args[0])
	if tid < 0 {
		fmt.Println("no such table:", args[0])
		return
	}
	rid, err := db.Insert(tid, []byte(strings.Join(args[1:], " ")))
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	fmt.Printf("rid = (%d, %d)\n", rid.PageID, rid.SlotID)
}

func cmdRead(db *pagedb.DB, args []string) {
	rid, ok := parseRID(args)
	if !ok {
		fmt.Println("usage: read <page> <slot>")
		return
	}
	data, found, err := db.Read(rid)
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	if !found {
		fmt.Println("no record")
		return
	}
	fmt.Println(string(data))
}

func cmdUpdate(db *pagedb.DB, args []string) {
	rid, ok := parseRID(args)
	if !ok || len(args) < 3 {
		fmt.Println("usage: update <page> <slot> <v1|v2|...>")
		return
	}
	done, err := db.Update(rid, []byte(strings.Join(args[2:], " ")))
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	fmt.Println("updated:", done)
}

func cmdDelete(db *pagedb.DB, args []string) {
	rid, ok := parseRID(args)
	if !ok {
		fmt.Println("usage: delete <page> <slot>")
		return
	}
	done, err := db.Delete(rid)
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	fmt.Println("deleted:", done)
}

func cmdScan(db *pagedb.DB, args []string) {
	if len(args) != 1 {
		fmt.Println("usage: scan <table>")
		return
	}
	tid := db.TableID(args[0])
	if tid < 0 {
		fmt.Println("no such table:", args[0])
		return
	}
	recs, err := db.Scan(tid)
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	for _, r := range recs {
		fmt.Printf("(%d, %d): %s\n", r.RID.PageID, r.RID.SlotID, r.Bytes)
	}
	fmt.Printf("%d record(s)\n", len(recs))
}

func cmdIndex(db *pagedb.DB, args []string) {
	if len(args) < 3 {
		fmt.Println("usage: index <name> <table> <column> [unique]")
		return
	}
	unique := len(args) > 3 && strings.EqualFold(args[3], "unique")
	if err := db.CreateIndex(args[0], args[1], args[2], unique); err != nil {
		fmt.Println("ERR:", err)
		return
	}
	fmt.Println("ok")
}

func cmdFind(db *pagedb.DB, args []string) {
	if len(args) != 2 {
		fmt.Println("usage: find <index> <value>")
		return
	}
	rid, found, err := db.IndexSearch(args[0], args[1])
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	if !found {
		fmt.Println("no match")
		return
	}
	fmt.Printf("rid = (%d, %d)\n", rid.PageID, rid.SlotID)
}

func cmdRange(db *pagedb.DB, args []string) {
	if len(args) != 3 {
		fmt.Println("usage: range <index> <low> <high>")
		return
	}
	matches, err := db.IndexRange(args[0], args[1], args[2])
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	for _, m := range matches {
		fmt.Printf("%s -> (%d, %d)\n", m.Key, m.RID.PageID, m.RID.SlotID)
	}
	fmt.Printf("%d match(es)\n", len(matches))
}

func cmdImport(db *pagedb.DB, args []string, logger zerolog.Logger) {
	if len(args) != 2 {
		fmt.Println("usage: import <sqlite-file> <table>")
		return
	}
	n, err := importer.ImportTable(db.Engine(), args[0], args[1])
	if err != nil {
		fmt.Println("ERR:", err)
		return
	}
	logger.Info().Int("rows", n).Str("table", args[1]).Msg("import done")
	fmt.Printf("imported %d row(s)\n", n)
}
