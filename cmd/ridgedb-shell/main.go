// Command ridgedb-shell is an interactive console over the storage
// core: the disk manager, write-ahead log, buffer pool, and internal
// page layer, with no B+Tree driver or network service layered on
// top. It exists to poke at pages by hand while developing against
// this core, the same role gojodb_cli plays against a running
// cluster, but talking directly to the on-disk file instead of an
// HTTP admin API.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"go.uber.org/zap"

	"github.com/ridgedb/ridgedb/internal/index/bplustree"
	"github.com/ridgedb/ridgedb/internal/storage/buffer"
	"github.com/ridgedb/ridgedb/internal/storage/disk"
	"github.com/ridgedb/ridgedb/internal/storage/page"
	"github.com/ridgedb/ridgedb/internal/storage/wal"
	"github.com/ridgedb/ridgedb/pkg/logger"
)

const (
	defaultDBFile   = "data/ridgedb.db"
	defaultWALDir   = "data/wal"
	defaultPoolSize = 64
	defaultBucket   = 4
	defaultKeyWidth = 8
)

type shell struct {
	disk   *disk.Manager
	log    *wal.Manager
	pool   *buffer.Pool
	logger *zap.Logger

	pages map[page.ID]*bplustree.InternalPage
}

func main() {
	dbFile := flag.String("db", defaultDBFile, "path to the database file")
	walDir := flag.String("wal", defaultWALDir, "directory for the write-ahead log")
	poolSize := flag.Int("pool-size", defaultPoolSize, "number of frames in the buffer pool")
	throttle := flag.Int("write-bytes-per-sec", 0, "throttle WritePage to this many bytes/sec (0 disables)")
	flag.Parse()

	lg, err := logger.New(logger.Config{Level: "info", Format: "console", OutputFile: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ridgedb-shell: starting logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()

	if err := os.MkdirAll(*walDir, 0o755); err != nil {
		lg.Fatal("creating wal directory", zap.Error(err))
	}

	dm, err := disk.Open(disk.Config{Path: *dbFile, WriteBytesPerSec: *throttle})
	if err != nil {
		lg.Fatal("opening database file", zap.Error(err))
	}
	defer dm.Close()

	lm, err := wal.Open(*walDir, lg)
	if err != nil {
		lg.Fatal("opening write-ahead log", zap.Error(err))
	}
	defer lm.Close()

	pool := buffer.New(buffer.Config{PoolSize: *poolSize, BucketSize: defaultBucket}, dm, lm, lg, nil)

	sh := &shell{disk: dm, log: lm, pool: pool, logger: lg, pages: make(map[page.ID]*bplustree.InternalPage)}
	sh.run()
}

func (s *shell) run() {
	rl, err := readline.New("ridgedb> ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "ridgedb-shell: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	fmt.Println("ridgedb storage shell. Type 'help' for commands, 'exit' to leave.")
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == io.EOF || err == readline.ErrInterrupt {
				fmt.Println()
				return
			}
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			continue
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		args := strings.Fields(line)
		if quit := s.dispatch(args); quit {
			return
		}
	}
}

func (s *shell) dispatch(args []string) (quit bool) {
	switch strings.ToLower(args[0]) {
	case "help":
		s.help()
	case "exit", "quit":
		fmt.Println("closing pool and syncing log...")
		_ = s.pool.FlushAllPages()
		_ = s.log.Sync()
		return true
	case "newpage":
		s.cmdNewPage()
	case "fetch":
		s.cmdFetch(args[1:])
	case "unpin":
		s.cmdUnpin(args[1:])
	case "flush":
		s.cmdFlush(args[1:])
	case "delete":
		s.cmdDelete(args[1:])
	case "init-internal":
		s.cmdInitInternal(args[1:])
	case "populate-root":
		s.cmdPopulateRoot(args[1:])
	case "insert-after":
		s.cmdInsertAfter(args[1:])
	case "lookup":
		s.cmdLookup(args[1:])
	case "dump":
		s.cmdDump(args[1:])
	default:
		fmt.Printf("unknown command %q, type 'help' for the list\n", args[0])
	}
	return false
}

func (s *shell) help() {
	fmt.Println(`commands:
  newpage                              allocate a page and pin it
  fetch <id>                           pin a resident or on-disk page
  unpin <id> [dirty]                   unpin a page, optionally marking it dirty
  flush <id>                           write a page back to disk
  delete <id>                          delete an unpinned page
  init-internal <id> <parentId>        format a pinned page as an internal node
  populate-root <id> <old> <key> <new> seed a freshly init'd root with one split
  insert-after <id> <old> <key> <new>  insert a separator after a child id
  lookup <id> <key>                    find the child covering key
  dump <id>                            print an internal page's slots
  help                                 this text
  exit                                 flush, sync the log, and leave`)
}

func (s *shell) cmdNewPage() {
	_, id, err := s.pool.NewPage()
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("allocated and pinned page", id)
}

func (s *shell) cmdFetch(args []string) {
	id, err := parsePageID(args)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	if _, err := s.pool.FetchPage(id); err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("pinned page", id)
}

func (s *shell) cmdUnpin(args []string) {
	id, err := parsePageID(args)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	dirty := len(args) > 1 && args[1] == "dirty"
	ok, err := s.pool.UnpinPage(id, dirty)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("unpinned:", ok)
}

func (s *shell) cmdFlush(args []string) {
	id, err := parsePageID(args)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	ok, err := s.pool.FlushPage(id)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("flushed:", ok)
}

func (s *shell) cmdDelete(args []string) {
	id, err := parsePageID(args)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	ok, err := s.pool.DeletePage(id)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	delete(s.pages, id)
	fmt.Println("deleted:", ok)
}

func (s *shell) cmdInitInternal(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: init-internal <id> <parentId>")
		return
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	parentID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	frame, err := s.pool.FetchPage(page.ID(id))
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	ip := bplustree.Wrap(frame, defaultKeyWidth, nil)
	ip.Init(page.ID(id), page.ID(parentID))
	s.pages[page.ID(id)] = ip
	fmt.Println("formatted page", id, "as an internal node")
}

func (s *shell) cmdPopulateRoot(args []string) {
	if len(args) < 4 {
		fmt.Println("usage: populate-root <id> <oldChild> <key> <newChild>")
		return
	}
	ip, err := s.internalPage(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	old, newC, key, err := parseSeparator(args[1:])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	ip.PopulateNewRoot(old, key, newC)
	fmt.Println("populated root, size now", ip.Size())
}

func (s *shell) cmdInsertAfter(args []string) {
	if len(args) < 4 {
		fmt.Println("usage: insert-after <id> <oldChild> <key> <newChild>")
		return
	}
	ip, err := s.internalPage(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	old, newC, key, err := parseSeparator(args[1:])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("new size:", ip.InsertNodeAfter(old, key, newC))
}

func (s *shell) cmdLookup(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: lookup <id> <key>")
		return
	}
	ip, err := s.internalPage(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	key, err := parseKey(args[1])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Println("child:", ip.Lookup(key))
}

func (s *shell) cmdDump(args []string) {
	if len(args) < 1 {
		fmt.Println("usage: dump <id>")
		return
	}
	ip, err := s.internalPage(args[0])
	if err != nil {
		fmt.Println("error:", err)
		return
	}
	fmt.Printf("page %d  parent=%d  size=%d/%d\n", ip.PageID(), ip.ParentID(), ip.Size(), ip.MaxSize())
	for i := 0; i < ip.Size(); i++ {
		if i == 0 {
			fmt.Printf("  [%d] child=%d\n", i, ip.ValueAt(i))
			continue
		}
		fmt.Printf("  [%d] key=%d child=%d\n", i, binary.LittleEndian.Uint64(ip.KeyAt(i)), ip.ValueAt(i))
	}
}

func (s *shell) internalPage(idArg string) (*bplustree.InternalPage, error) {
	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return nil, err
	}
	ip, ok := s.pages[page.ID(id)]
	if ok {
		return ip, nil
	}
	frame, err := s.pool.FetchPage(page.ID(id))
	if err != nil {
		return nil, err
	}
	ip = bplustree.Wrap(frame, defaultKeyWidth, nil)
	s.pages[page.ID(id)] = ip
	return ip, nil
}

func parsePageID(args []string) (page.ID, error) {
	if len(args) < 1 {
		return page.InvalidID, fmt.Errorf("missing page id")
	}
	n, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return page.InvalidID, err
	}
	return page.ID(n), nil
}

func parseKey(arg string) ([]byte, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return nil, err
	}
	b := make([]byte, defaultKeyWidth)
	binary.LittleEndian.PutUint64(b, n)
	return b, nil
}

func parseSeparator(args []string) (old, newC page.ID, key []byte, err error) {
	oldN, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return 0, 0, nil, err
	}
	key, err = parseKey(args[1])
	if err != nil {
		return 0, 0, nil, err
	}
	newN, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return 0, 0, nil, err
	}
	return page.ID(oldN), page.ID(newN), key, nil
}
