// Package tagservice keeps tag details attached to the right tag occurrence as
// notes change, and exposes the read and edit operations used by the HTTP and
// MCP surfaces.
package tagservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/starford/tagledger/internal/apperr"
	"github.com/starford/tagledger/internal/checksum"
	"github.com/starford/tagledger/internal/frontmatter"
	"github.com/starford/tagledger/internal/index"
	"github.com/starford/tagledger/internal/models"
	"github.com/starford/tagledger/internal/parser"
	"github.com/starford/tagledger/internal/reconcile"
	"github.com/starford/tagledger/internal/settings"
	"github.com/starford/tagledger/internal/shadow"
	"github.com/starford/tagledger/internal/storage"
)

// Event kinds passed to EventFunc.
const (
	EventReconciled = "tags.reconciled"
	EventRemoved    = "tags.removed"
	EventDetail     = "detail.updated"
	EventFlagged    = "review.flagged"
)

// EventFunc is called after a committed change. kind is one of the Event constants.
type EventFunc func(kind, path string)

// Policy decides what happens to an ambiguous reconciliation.
type Policy string

// Ambiguity policies.
const (
	PolicyApply Policy = "apply"
	PolicySkip  Policy = "skip"
	PolicyFlag  Policy = "flag"
)

// Options configures a Service.
type Options struct {
	FrontmatterKey string
	OnAmbiguous    Policy
	CacheSize      int
	OnEvent        EventFunc
}

// Change reports what HandleChange did with a file.
type Change struct {
	Path    string `json:"path"`
	Kind    string `json:"kind"`
	Outcome string `json:"outcome"`
	Changed bool   `json:"changed"`
	Written bool   `json:"written"`
	Skipped bool   `json:"skipped"`
}

// TagDetail is one tag occurrence with its detail and shadow text.
type TagDetail struct {
	Index       int            `json:"index"`
	Tag         string         `json:"tag"`
	Fingerprint string         `json:"fingerprint"`
	Line        int            `json:"line"`
	Column      int            `json:"column"`
	Offset      int            `json:"offset"`
	Detail      *models.Record `json:"detail"`
	Shadow      string         `json:"shadow"`
}

// FileDetails is the detail view of one file.
type FileDetails struct {
	Path string      `json:"path"`
	Tags []TagDetail `json:"tags"`
}

// Service coordinates storage, settings, shadow buffers and the index.
// All mutations are serialised behind one mutex.
type Service struct {
	mu       sync.Mutex
	store    storage.Provider
	idx      index.TagIndex
	settings *settings.Settings
	shadows  *shadow.Registry
	written  *lru.Cache[string, struct{}]
	opts     Options
	logger   *slog.Logger
}

// New creates a service. st is owned by the service from here on.
func New(store storage.Provider, idx index.TagIndex, st *settings.Settings, shadows *shadow.Registry, logger *slog.Logger, opts Options) (*Service, error) {
	if opts.FrontmatterKey == "" {
		opts.FrontmatterKey = frontmatter.DefaultKey
	}
	if opts.OnAmbiguous == "" {
		opts.OnAmbiguous = PolicyApply
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 256
	}
	written, err := lru.New[string, struct{}](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("tagservice: write cache: %w", err)
	}
	if shadows == nil {
		shadows = shadow.NewRegistry()
	}
	return &Service{
		store:    store,
		idx:      idx,
		settings: st,
		shadows:  shadows,
		written:  written,
		opts:     opts,
		logger:   logger,
	}, nil
}

func (s *Service) emit(kind, path string) {
	if s.opts.OnEvent != nil {
		s.opts.OnEvent(kind, path)
	}
}

func writtenKey(path, sum string) string { return path + "\x00" + sum }

// HandleChange reconciles the stored details of path with the tags found in data.
// It is a no-op when tag detail is disabled or when data is the echo of a
// write made by the service itself.
func (s *Service) HandleChange(ctx context.Context, path string, data []byte) (*Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleChange(ctx, path, data)
}

// HandleFile is HandleChange for callers that only need the error.
func (s *Service) HandleFile(ctx context.Context, path string, data []byte) error {
	_, err := s.HandleChange(ctx, path, data)
	return err
}

func (s *Service) handleChange(ctx context.Context, path string, data []byte) (*Change, error) {
	ch := &Change{Path: path, Kind: reconcile.Noop.String(), Outcome: reconcile.Aligned.String()}
	if !s.settings.UseTagDetail {
		ch.Skipped = true
		return ch, nil
	}
	if k := writtenKey(path, checksum.Sum(data)); s.written.Contains(k) {
		s.written.Remove(k)
		s.logger.Debug("tagservice: own write skipped", slog.String("path", path))
		ch.Skipped = true
		return ch, nil
	}

	tags := parser.Tags(data)
	st, buf, fresh := s.load(path, data, tags)
	res := reconcile.Reconcile(st, tags, buf)
	ch.Kind = res.Kind.String()
	ch.Outcome = res.Outcome.String()
	ch.Changed = res.Changed

	if res.Outcome == reconcile.Ambiguous {
		skip, err := s.onAmbiguous(ctx, path, ch.Kind)
		if err != nil {
			return nil, err
		}
		if skip {
			ch.Skipped = true
			return ch, nil
		}
	}

	if !res.Changed && (!fresh || st.Len() == 0) {
		// Nothing to persist; keep the index checksum in step with the file.
		if err := s.reindexIfStale(ctx, path, data, st, tags); err != nil {
			return nil, err
		}
		return ch, nil
	}

	written, err := s.commit(ctx, path, data, st, buf)
	if err != nil {
		return nil, err
	}
	ch.Written = written
	s.logger.Debug("tagservice: reconciled",
		slog.String("path", path),
		slog.String("kind", ch.Kind),
		slog.Int("tags", st.Len()))
	s.emit(EventReconciled, path)
	return ch, nil
}

// onAmbiguous applies the configured policy to an ambiguous reconciliation
// of path and reports whether the caller must drop it.
func (s *Service) onAmbiguous(ctx context.Context, path, kind string) (bool, error) {
	attrs := []any{slog.String("path", path), slog.String("kind", kind), slog.String("policy", string(s.opts.OnAmbiguous))}
	switch s.opts.OnAmbiguous {
	case PolicySkip:
		s.logger.Warn("tagservice: ambiguous edit skipped", attrs...)
		return true, nil
	case PolicyFlag:
		if err := s.idx.Flag(ctx, path, fmt.Sprintf("ambiguous %s", kind)); err != nil {
			return false, err
		}
		s.logger.Warn("tagservice: ambiguous edit flagged", attrs...)
		s.emit(EventFlagged, path)
	default:
		s.logger.Warn("tagservice: ambiguous edit applied", attrs...)
	}
	return false, nil
}

// load returns a private copy of the state and shadow buffer for path. A file
// seen for the first time in yaml mode is seeded from its header when the
// header holds exactly one record per tag.
func (s *Service) load(path string, data []byte, tags []models.TagOccurrence) (*models.FileTagState, *shadow.Buffer, bool) {
	st, ok := s.settings.Files.Get(path)
	if !ok {
		st = models.NewFileTagState()
		if s.settings.StoreIn == settings.StoreInYAML {
			recs := frontmatter.Decode(data, s.opts.FrontmatterKey)
			if len(recs) > 0 && len(recs) == len(tags) {
				st.Fingerprints = models.Fingerprints(tags)
				st.Records = recs
			}
		}
	}
	st.Normalize()
	buf := s.shadows.Checkout(path)
	if buf == nil || buf.Len() != st.Len() {
		buf = shadow.FromRecords(st.Records)
	}
	return st, buf, !ok
}

// commit persists a reconciled state: header rewrite in yaml mode, then the
// settings save, then the shadow buffer and the index. Nothing is kept in
// memory unless the write and the save succeed.
func (s *Service) commit(ctx context.Context, path string, data []byte, st *models.FileTagState, buf *shadow.Buffer) (bool, error) {
	out := data
	// A file gets a header entry only once one of its tags carries detail.
	if s.settings.StoreIn == settings.StoreInYAML && (hasDetail(st.Records) || frontmatter.Has(data, s.opts.FrontmatterKey)) {
		var err error
		out, err = frontmatter.Encode(data, s.opts.FrontmatterKey, st.Records)
		if err != nil {
			return false, fmt.Errorf("tagservice: encode %s: %w", path, err)
		}
	}

	written := false
	if !bytes.Equal(out, data) {
		if err := s.store.Write(path, out); err != nil {
			return false, fmt.Errorf("tagservice: write %s: %w", path, err)
		}
		s.written.Add(writtenKey(path, checksum.Sum(out)), struct{}{})
		written = true
	}

	// The header may have grown or shrunk; fingerprints describe the file on disk.
	tags := parser.Tags(out)
	if len(tags) == st.Len() {
		st.Fingerprints = models.Fingerprints(tags)
	}

	prev, hadPrev := s.settings.Files.Get(path)
	s.settings.Files.Set(path, st)
	if err := s.settings.Save(ctx, s.idx); err != nil {
		if hadPrev {
			s.settings.Files.Set(path, prev)
		} else {
			s.settings.Files.Delete(path)
		}
		return written, err
	}
	s.shadows.Commit(path, buf)

	if err := s.reindex(ctx, path, out, st, tags); err != nil {
		s.logger.Warn("tagservice: index update failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	return written, nil
}

func hasDetail(records []*models.Record) bool {
	for _, r := range records {
		if r != nil {
			return true
		}
	}
	return false
}

func (s *Service) reindexIfStale(ctx context.Context, path string, data []byte, st *models.FileTagState, tags []models.TagOccurrence) error {
	cs, err := s.idx.GetChecksum(ctx, path)
	if err != nil {
		return err
	}
	if cs == checksum.Sum(data) {
		return nil
	}
	return s.reindex(ctx, path, data, st, tags)
}

func (s *Service) reindex(ctx context.Context, path string, data []byte, st *models.FileTagState, tags []models.TagOccurrence) error {
	rows := make([]index.TagRow, 0, st.Len())
	for i, fp := range st.Fingerprints {
		tag := models.FingerprintTag(fp)
		if i < len(tags) {
			tag = tags[i].Tag
		}
		row := index.TagRow{Path: path, Index: i, Tag: tag, Fingerprint: fp, Detail: json.RawMessage("null")}
		if r := st.Records[i]; r != nil {
			raw, err := json.Marshal(r)
			if err != nil {
				return fmt.Errorf("tagservice: marshal detail: %w", err)
			}
			row.HasDetail = true
			row.Detail = raw
		}
		rows = append(rows, row)
	}
	return s.idx.UpsertFile(ctx, index.FileRow{Path: path, Checksum: checksum.Sum(data), UpdatedAt: time.Now()}, rows)
}

// HandleRemove drops the index rows and shadow buffer of a removed file.
// The stored state is kept so a restored file gets its details back.
func (s *Service) HandleRemove(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handleRemove(ctx, path)
}

func (s *Service) handleRemove(ctx context.Context, path string) error {
	s.shadows.Drop(path)
	if err := s.idx.DeleteFile(ctx, path); err != nil {
		return err
	}
	s.emit(EventRemoved, path)
	return nil
}

// Sync processes every file whose checksum differs from the index and drops
// index entries for files that no longer exist.
func (s *Service) Sync(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	indexed, err := s.idx.AllChecksums(ctx)
	if err != nil {
		return err
	}
	metas, err := s.store.List("")
	if err != nil {
		return fmt.Errorf("tagservice: list vault: %w", err)
	}

	var processed, removed, failed int
	onDisk := make(map[string]struct{}, len(metas))
	for _, m := range metas {
		if err := ctx.Err(); err != nil {
			return err
		}
		onDisk[m.Path] = struct{}{}
		if indexed[m.Path] == m.Checksum {
			continue
		}
		data, err := s.store.Read(m.Path)
		if err != nil {
			s.logger.Warn("sync: read failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			failed++
			continue
		}
		if _, err := s.handleChange(ctx, m.Path, data); err != nil {
			s.logger.Warn("sync: reconcile failed", slog.String("path", m.Path), slog.String("error", err.Error()))
			failed++
			continue
		}
		processed++
	}
	for p := range indexed {
		if _, ok := onDisk[p]; ok {
			continue
		}
		if err := s.handleRemove(ctx, p); err != nil {
			s.logger.Warn("sync: remove failed", slog.String("path", p), slog.String("error", err.Error()))
			failed++
			continue
		}
		removed++
	}

	s.logger.Info("sync: complete",
		slog.Int("processed", processed),
		slog.Int("removed", removed),
		slog.Int("failed", failed))
	return nil
}

// Details returns every tag occurrence of path with its detail and shadow text.
func (s *Service) Details(_ context.Context, path string) (*FileDetails, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.settings.Files.Get(path)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	entries, _ := s.shadows.Entries(path)
	out := &FileDetails{Path: path, Tags: make([]TagDetail, 0, st.Len())}
	for i, fp := range st.Fingerprints {
		td := TagDetail{Index: i, Fingerprint: fp, Tag: models.FingerprintTag(fp), Detail: st.Records[i]}
		if occ, err := models.ParseFingerprint(fp); err == nil {
			td.Line, td.Column, td.Offset = occ.Line, occ.Column, occ.Offset
		}
		if i < len(entries) {
			td.Shadow = entries[i]
		} else {
			td.Shadow = st.Records[i].Summary()
		}
		out.Tags = append(out.Tags, td)
	}
	return out, nil
}

// Shadow returns the shadow text buffer of path.
func (s *Service) Shadow(_ context.Context, path string) ([]string, error) {
	if entries, ok := s.shadows.Entries(path); ok {
		return entries, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings.Files.Get(path)
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return shadow.FromRecords(st.Records).Entries(), nil
}

// AttachDetail gives the occurrence at idx a record, seeded from the tag's
// schema when one is configured. An existing record is returned unchanged.
func (s *Service) AttachDetail(ctx context.Context, path string, idx int) (*models.Record, error) {
	return s.mutate(ctx, path, idx, func(tag string, r *models.Record) (*models.Record, error) {
		if r != nil {
			return r, nil
		}
		return s.seed(tag), nil
	})
}

// SetAttribute sets name to value on the record at idx, attaching one first if needed.
func (s *Service) SetAttribute(ctx context.Context, path string, idx int, name string, value *string) (*models.Record, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	return s.mutate(ctx, path, idx, func(tag string, r *models.Record) (*models.Record, error) {
		if r == nil {
			r = s.seed(tag)
		}
		r.Set(name, value)
		return r, nil
	})
}

// DeleteAttribute removes name from the record at idx.
func (s *Service) DeleteAttribute(ctx context.Context, path string, idx int, name string) (*models.Record, error) {
	return s.mutate(ctx, path, idx, func(_ string, r *models.Record) (*models.Record, error) {
		if r == nil || !r.Delete(name) {
			return nil, fmt.Errorf("attribute %q: %w", name, apperr.ErrNotFound)
		}
		return r, nil
	})
}

// SetItem sets the typed item name on the record at idx, attaching one first if needed.
func (s *Service) SetItem(ctx context.Context, path string, idx int, name string, item models.TypedItem) (*models.Record, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if item.Type != nil && !item.Type.Valid() {
		return nil, fmt.Errorf("item type %q: %w", *item.Type, apperr.ErrInvalid)
	}
	return s.mutate(ctx, path, idx, func(tag string, r *models.Record) (*models.Record, error) {
		if r == nil {
			r = s.seed(tag)
		}
		r.SetItem(name, item)
		return r, nil
	})
}

// ClearDetail removes the record at idx.
func (s *Service) ClearDetail(ctx context.Context, path string, idx int) error {
	_, err := s.mutate(ctx, path, idx, func(string, *models.Record) (*models.Record, error) {
		return nil, nil
	})
	return err
}

func validateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" || name == frontmatter.ItemsKey {
		return fmt.Errorf("name %q: %w", name, apperr.ErrInvalid)
	}
	return nil
}

func (s *Service) seed(tag string) *models.Record {
	if sc, ok := s.settings.Schema(tag); ok {
		return sc.NewRecord()
	}
	return models.NewRecord()
}

// mutate brings path's state up to date with the file, applies fn to the
// record at idx and commits the result.
func (s *Service) mutate(ctx context.Context, path string, idx int, fn func(tag string, r *models.Record) (*models.Record, error)) (*models.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.settings.UseTagDetail {
		return nil, apperr.ErrDisabled
	}
	data, err := s.store.Read(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}

	tags := parser.Tags(data)
	st, buf, _ := s.load(path, data, tags)
	if res := reconcile.Reconcile(st, tags, buf); res.Outcome == reconcile.Ambiguous {
		skip, err := s.onAmbiguous(ctx, path, res.Kind.String())
		if err != nil {
			return nil, err
		}
		if skip {
			return nil, fmt.Errorf("%s: %w", path, apperr.ErrConflict)
		}
	}
	if idx < 0 || idx >= st.Len() {
		return nil, fmt.Errorf("index %d of %d: %w", idx, st.Len(), apperr.ErrOutOfRange)
	}

	var cur *models.Record
	if st.Records[idx] != nil {
		cur = st.Records[idx].Clone()
	}
	next, err := fn(tags[idx].Tag, cur)
	if err != nil {
		return nil, err
	}
	st.Records[idx] = next
	buf.Set(idx, next.Summary())

	if _, err := s.commit(ctx, path, data, st, buf); err != nil {
		return nil, err
	}
	s.emit(EventDetail, path)
	if next == nil {
		return nil, nil
	}
	return next.Clone(), nil
}

// Settings returns the user-editable settings.
func (s *Service) Settings() settings.Options {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings.Options()
}

// UpdateSettings validates and applies opts, then persists them.
func (s *Service) UpdateSettings(ctx context.Context, opts settings.Options) (settings.Options, error) {
	if err := opts.Validate(); err != nil {
		return settings.Options{}, fmt.Errorf("%w: %v", apperr.ErrInvalid, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.settings.Options()
	s.settings.Apply(opts)
	if err := s.settings.Save(ctx, s.idx); err != nil {
		s.settings.Apply(old)
		return settings.Options{}, err
	}
	s.logger.Info("tagservice: settings updated",
		slog.Bool("enabled", opts.UseTagDetail),
		slog.String("store_in", string(opts.StoreIn)))
	return s.settings.Options(), nil
}

// ListByTag returns every occurrence of tag across the vault. The leading '#' is optional.
func (s *Service) ListByTag(ctx context.Context, tag string) ([]index.TagRow, error) {
	if tag == "" {
		return nil, apperr.ErrInvalid
	}
	if !strings.HasPrefix(tag, "#") {
		tag = "#" + tag
	}
	rows, err := s.idx.ListByTag(ctx, tag)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []index.TagRow{}
	}
	return rows, nil
}

// Search matches query against tag text and detail values.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]index.TagRow, error) {
	if strings.TrimSpace(query) == "" {
		return nil, apperr.ErrInvalid
	}
	rows, err := s.idx.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []index.TagRow{}
	}
	return rows, nil
}

// ReviewQueue returns the files flagged for review.
func (s *Service) ReviewQueue(ctx context.Context) ([]index.ReviewItem, error) {
	items, err := s.idx.ListFlagged(ctx)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []index.ReviewItem{}
	}
	return items, nil
}

// ResolveReview removes path from the review queue.
func (s *Service) ResolveReview(ctx context.Context, path string) error {
	ok, err := s.idx.ClearFlag(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.ErrNotFound
	}
	return nil
}
