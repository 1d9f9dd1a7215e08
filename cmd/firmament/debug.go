package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/google/subcommands"

	"github.com/firmament-sync/firmament"
	"github.com/firmament-sync/firmament/config"
)

// debugCmd groups the read-only datastore inspection commands under a
// single "debug" verb: "debug versions <path>", "debug local <path>", and
// "debug paths". The mode is the first positional argument rather than a
// nested subcommands.Commander, since three small modes don't earn the
// extra machinery a second command tree would add.
type debugCmd struct {
	root string
}

func (*debugCmd) Name() string     { return "debug" }
func (*debugCmd) Synopsis() string { return "Inspect a checkout's datastores." }
func (*debugCmd) Usage() string {
	return `debug [-root PATH] <versions|local|paths> [ARG]:
  versions <path>  print the FileVersionData recorded for <path>
  local <path>      print the LocalVersionData recorded for <path>
  paths             list every configured PathRequest and its policy
`
}

func (p *debugCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&p.root, "root", ".", "Directory inside the checkout to run against")
}

func (p *debugCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "debug: missing mode (versions|local|paths)")
		return subcommands.ExitUsageError
	}

	cfg, err := config.Load(p.root)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not load checkout: %v\n", err)
		return subcommands.ExitFailure
	}
	defer cfg.Close()

	switch mode := f.Arg(0); mode {
	case "versions":
		return debugVersions(cfg, f.Arg(1))
	case "local":
		return debugLocal(cfg, f.Arg(1))
	case "paths":
		return debugPaths(cfg)
	default:
		fmt.Fprintf(os.Stderr, "debug: unknown mode %q\n", mode)
		return subcommands.ExitUsageError
	}
}

func debugVersions(cfg *config.Config, path string) subcommands.ExitStatus {
	if path == "" {
		fmt.Fprintln(os.Stderr, "debug versions: missing path")
		return subcommands.ExitUsageError
	}
	data, found, err := cfg.FileVersions.Get(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not read file version for %q: %v\n", path, err)
		return subcommands.ExitFailure
	}
	if !found {
		fmt.Printf("%s: no FileVersion recorded\n", path)
		return subcommands.ExitSuccess
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 1, ' ', 0)
	fmt.Fprintf(w, "hash\tmtime\tsize\n")
	hashes := make([]string, 0, len(data))
	for h := range data {
		hashes = append(hashes, string(h))
	}
	sort.Strings(hashes)
	for _, h := range hashes {
		meta := data[firmament.ContentHash(h)]
		fmt.Fprintf(w, "%s\t%d\t%d\n", h, meta.Mtime, meta.Size)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

func debugLocal(cfg *config.Config, path string) subcommands.ExitStatus {
	if path == "" {
		fmt.Fprintln(os.Stderr, "debug local: missing path")
		return subcommands.ExitUsageError
	}
	data, found, err := cfg.LocalVersions.Get(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not read local version for %q: %v\n", path, err)
		return subcommands.ExitFailure
	}
	if !found {
		fmt.Printf("%s: no LocalVersion recorded\n", path)
		return subcommands.ExitSuccess
	}

	hash := "(unhashed)"
	if data.ContentHash != nil {
		hash = string(*data.ContentHash)
	}
	lastHashed := int64(0)
	if data.LastHashed != nil {
		lastHashed = *data.LastHashed
	}
	fmt.Printf("%s: hash=%s mtime=%d size=%d last_hashed=%d\n", path, hash, data.Mtime, data.Size, lastHashed)
	return subcommands.ExitSuccess
}

func debugPaths(cfg *config.Config) subcommands.ExitStatus {
	items, err := cfg.PathRequests.Items()
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not list path requests: %v\n", err)
		return subcommands.ExitFailure
	}
	if len(items) == 0 {
		fmt.Println("no PathRequest entries configured")
		return subcommands.ExitSuccess
	}

	paths := make([]string, 0, len(items))
	for k := range items {
		paths = append(paths, k)
	}
	sort.Strings(paths)

	w := tabwriter.NewWriter(os.Stdout, 0, 2, 1, ' ', 0)
	fmt.Fprintf(w, "path\tpolicy\n")
	for _, path := range paths {
		fmt.Fprintf(w, "%s\t%s\n", path, items[path])
	}
	w.Flush()
	return subcommands.ExitSuccess
}
