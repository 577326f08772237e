package stratum

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
)

// Sentinel titles for fragments with missing position metadata. Such
// fragments are grouped rather than dropped.
const (
	UnknownChapter = "Unknown Chapter"
	UnknownSection = "Unknown Section"
)

// Tree is the derived chapter/section grouping of a source's fragments.
// Nodes are plain records referencing fragments by id; the tree is rebuilt
// on demand and never stored as a mutable entity.
type Tree struct {
	SourceID string
	Chapters []Chapter
}

// Chapter is a top-level hierarchy node.
type Chapter struct {
	NodeID   string
	Title    string
	Sections []Section
}

// Section is a second-level hierarchy node holding fragment ids in
// document order.
type Section struct {
	NodeID      string
	Title       string
	FragmentIDs []string
}

// FragmentIDs returns all fragment ids under the chapter, in document order.
func (c Chapter) FragmentIDs() []string {
	var ids []string
	for _, s := range c.Sections {
		ids = append(ids, s.FragmentIDs...)
	}
	return ids
}

// ChapterNodeID returns the deterministic node id for a chapter.
// Identical input always yields the same id, which keeps extraction-record
// traceability valid across rebuilds.
func ChapterNodeID(sourceID, chapter string) string {
	return nodeHash(sourceID, chapter)
}

// SectionNodeID returns the deterministic node id for a section.
func SectionNodeID(sourceID, chapter, section string) string {
	return nodeHash(sourceID, chapter, section)
}

func nodeHash(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return "node_" + hex.EncodeToString(h.Sum(nil)[:16])
}

// TreeOption configures BuildTree.
type TreeOption func(*treeConfig)

type treeConfig struct {
	logger *slog.Logger
}

// WithTreeLogger sets a structured logger for data-quality warnings
// (fragments with missing chapter/section metadata). If not set, warnings
// are discarded.
func WithTreeLogger(l *slog.Logger) TreeOption {
	return func(c *treeConfig) { c.logger = l }
}

// BuildTree groups fragments into a chapter → section → fragment tree using
// their position metadata. Grouping is by (chapter, section) title tuple in
// input order: the first occurrence of a tuple creates the node, later
// fragments with the same tuple append to it. Fragments missing metadata go
// under the sentinel titles instead of being rejected.
//
// BuildTree is pure and deterministic: the same fragments always produce the
// same node ids and the same fragment-to-node assignment.
func BuildTree(fragments []Fragment, opts ...TreeOption) Tree {
	cfg := treeConfig{logger: nopLogger}
	for _, o := range opts {
		o(&cfg)
	}

	var tree Tree
	if len(fragments) == 0 {
		return tree
	}
	tree.SourceID = fragments[0].SourceID

	chapterIdx := make(map[string]int)    // chapter title -> index in tree.Chapters
	sectionIdx := make(map[[2]string]int) // (chapter, section) -> index in chapter.Sections

	for _, f := range fragments {
		chapter, section := f.Position.Chapter, f.Position.Section
		if chapter == "" {
			chapter = UnknownChapter
			cfg.logger.Warn("fragment missing chapter metadata",
				"fragment_id", f.ID,
				"source_id", f.SourceID)
		}
		if section == "" {
			section = UnknownSection
			cfg.logger.Warn("fragment missing section metadata",
				"fragment_id", f.ID,
				"source_id", f.SourceID,
				"chapter", chapter)
		}

		ci, ok := chapterIdx[chapter]
		if !ok {
			ci = len(tree.Chapters)
			chapterIdx[chapter] = ci
			tree.Chapters = append(tree.Chapters, Chapter{
				NodeID: ChapterNodeID(tree.SourceID, chapter),
				Title:  chapter,
			})
		}

		key := [2]string{chapter, section}
		si, ok := sectionIdx[key]
		if !ok {
			si = len(tree.Chapters[ci].Sections)
			sectionIdx[key] = si
			tree.Chapters[ci].Sections = append(tree.Chapters[ci].Sections, Section{
				NodeID: SectionNodeID(tree.SourceID, chapter, section),
				Title:  section,
			})
		}

		sec := &tree.Chapters[ci].Sections[si]
		sec.FragmentIDs = append(sec.FragmentIDs, f.ID)
	}

	return tree
}
