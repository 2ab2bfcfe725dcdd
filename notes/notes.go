// Package notes renders release notes from the commit history between
// two release tags. Commits written in the conventional commit style
// are grouped by change type; everything else lands in a catch-all
// section so no commit is silently dropped.
package notes

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/leodido/go-conventionalcommits"
	"github.com/leodido/go-conventionalcommits/parser"

	"github.com/forgekit/relay/source"
)

// Notes are the rendered release notes for one version.
type Notes struct {
	// Version is the release the notes describe.
	Version string `json:"version"`

	// Breaking lists breaking changes.
	Breaking []string `json:"breaking,omitempty"`

	// Features lists feat commits.
	Features []string `json:"features,omitempty"`

	// Fixes lists fix commits.
	Fixes []string `json:"fixes,omitempty"`

	// Other lists every remaining commit subject.
	Other []string `json:"other,omitempty"`
}

// Generator parses commit history into release notes.
type Generator struct {
	machine conventionalcommits.Machine
	logger  *slog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) { g.logger = logger }
}

// New creates a Generator accepting the conventional commit types.
func New(opts ...Option) *Generator {
	g := &Generator{
		machine: parser.NewMachine(
			conventionalcommits.WithTypes(conventionalcommits.TypesConventional),
			conventionalcommits.WithBestEffort(),
		),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g
}

// Generate classifies the commits into notes for version.
func (g *Generator) Generate(version *semver.Version, commits []source.Commit) *Notes {
	n := &Notes{Version: version.String()}
	for _, commit := range commits {
		g.classify(n, commit)
	}
	sort.Strings(n.Breaking)
	sort.Strings(n.Features)
	sort.Strings(n.Fixes)
	sort.Strings(n.Other)
	return n
}

func (g *Generator) classify(n *Notes, commit source.Commit) {
	subject := firstLine(commit.Message)

	res, err := g.machine.Parse([]byte(commit.Message))
	cc, ok := res.(*conventionalcommits.ConventionalCommit)
	if !ok || !cc.Ok() {
		g.logger.Debug("commit does not follow conventional format",
			"subject", subject, "error", err)
		n.Other = append(n.Other, subject)
		return
	}

	entry := cc.Description
	if cc.Scope != nil {
		entry = fmt.Sprintf("%s: %s", *cc.Scope, cc.Description)
	}

	switch {
	case cc.IsBreakingChange():
		n.Breaking = append(n.Breaking, entry)
	case cc.Type == "feat":
		n.Features = append(n.Features, entry)
	case cc.Type == "fix":
		n.Fixes = append(n.Fixes, entry)
	default:
		n.Other = append(n.Other, subject)
	}
}

// Render formats the notes as markdown.
func (n *Notes) Render() string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", n.Version)

	section := func(title string, entries []string) {
		if len(entries) == 0 {
			return
		}
		fmt.Fprintf(&b, "\n### %s\n\n", title)
		for _, entry := range entries {
			fmt.Fprintf(&b, "- %s\n", entry)
		}
	}
	section("Breaking Changes", n.Breaking)
	section("Features", n.Features)
	section("Fixes", n.Fixes)
	section("Other", n.Other)
	return b.String()
}

func firstLine(message string) string {
	if i := strings.IndexByte(message, '\n'); i != -1 {
		return strings.TrimSpace(message[:i])
	}
	return strings.TrimSpace(message)
}
