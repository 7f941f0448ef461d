package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/Strob0t/ledgersync/internal/domain"
	"github.com/Strob0t/ledgersync/internal/domain/issue"
	"github.com/Strob0t/ledgersync/internal/domain/ledger"
	"github.com/Strob0t/ledgersync/internal/port/issuesource"
	"github.com/Strob0t/ledgersync/internal/port/ledgerstore"
	"github.com/Strob0t/ledgersync/internal/port/messagequeue"
	"github.com/Strob0t/ledgersync/internal/richtext"
)

var testRepo = issue.Repo{Owner: "acme", Name: "widgets"}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func newIssue(number int) issue.Issue {
	return issue.Issue{
		Number:        number,
		ID:            int64(9000 + number),
		Title:         fmt.Sprintf("Issue %d", number),
		Body:          fmt.Sprintf("Body of issue %d", number),
		State:         issue.StateOpen,
		Author:        "octocat",
		CreatedAt:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC),
		HTMLURL:       fmt.Sprintf("https://github.com/acme/widgets/issues/%d", number),
		RepositoryURL: "https://api.github.com/repos/acme/widgets",
	}
}

func newMapper(projects ProjectLinker) *PropertyMapper {
	return NewPropertyMapper(richtext.New(discard()), projects, discard())
}

// --- issue source ---

type fakeSource struct {
	mu           sync.Mutex
	pages        [][]issue.Issue
	listErr      error
	links        map[int]*issue.ProjectLink
	linkErr      error
	linkCalls    int
	listRequests []issuesource.ListQuery
}

func (s *fakeSource) ListIssues(_ context.Context, _ issue.Repo, q issuesource.ListQuery) (*issuesource.IssuePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listRequests = append(s.listRequests, q)
	if s.listErr != nil {
		return nil, s.listErr
	}
	if len(s.pages) == 0 {
		return &issuesource.IssuePage{}, nil
	}
	idx := 0
	if q.PageToken != "" {
		idx, _ = strconv.Atoi(q.PageToken)
	}
	page := &issuesource.IssuePage{Issues: s.pages[idx]}
	if idx+1 < len(s.pages) {
		page.NextPageToken = strconv.Itoa(idx + 1)
	}
	return page, nil
}

func (s *fakeSource) ProjectLink(_ context.Context, _ issue.Repo, number int) (*issue.ProjectLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkCalls++
	if s.linkErr != nil {
		return nil, s.linkErr
	}
	return s.links[number], nil
}

// --- ledger store ---

type storeCall struct {
	Op     string
	Target string
	Blocks []ledger.Block
}

// fakeStore is an in-memory ledger database. Entries are kept in creation
// order; block ids are assigned on write.
type fakeStore struct {
	mu            sync.Mutex
	entries       []ledger.Entry
	seq           int
	pageSize      int // entries per query page; 0 means the requested size
	blockPageSize int // blocks per list page; 0 means all
	queryErr      error
	failCreate    map[int]error // by issue number
	truncate      map[int]bool  // failCreate happens after the entry exists
	failDelete    map[string]error
	calls         []storeCall
	creates       map[int]int // issue number -> create calls
	inFlight      int
	maxInFlight   int
	createDelay   time.Duration
}

func newFakeStore() *fakeStore {
	return &fakeStore{creates: make(map[int]int)}
}

func (s *fakeStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// seed adds an existing entry tracking number with the given body blocks.
func (s *fakeStore) seed(number int, issueID int64, blockIDs ...string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := ledger.Entry{
		ID: s.nextID("entry"),
		Properties: ledger.Properties{
			ledger.PropName:   ledger.Title(fmt.Sprintf("Issue %d", number)),
			ledger.PropNumber: ledger.Number(float64(number)),
			ledger.PropID:     ledger.Number(float64(issueID)),
		},
	}
	for _, id := range blockIDs {
		b := ledger.Paragraph([]ledger.RichText{ledger.Plain("old " + id)})
		b.ID = id
		e.Blocks = append(e.Blocks, b)
	}
	s.entries = append(s.entries, e)
	return e.ID
}

func (s *fakeStore) find(id string) *ledger.Entry {
	for i := range s.entries {
		if s.entries[i].ID == id {
			return &s.entries[i]
		}
	}
	return nil
}

func (s *fakeStore) QueryEntries(_ context.Context, _ string, q ledgerstore.Query) (*ledgerstore.EntryPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	var matched []ledger.Entry
	for _, e := range s.entries {
		if q.Filter != nil {
			n, ok := e.Properties.Number(q.Filter.Property)
			if !ok || n != q.Filter.Equals {
				continue
			}
		}
		matched = append(matched, e)
	}

	size := q.PageSize
	if s.pageSize > 0 {
		size = s.pageSize
	}
	start := 0
	if q.StartCursor != "" {
		start, _ = strconv.Atoi(q.StartCursor)
	}
	end := min(start+size, len(matched))
	page := &ledgerstore.EntryPage{Entries: append([]ledger.Entry(nil), matched[start:end]...)}
	if end < len(matched) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *fakeStore) CreateEntry(ctx context.Context, _ string, props ledger.Properties, children []ledger.Block) (*ledger.Entry, error) {
	s.mu.Lock()
	s.inFlight++
	s.maxInFlight = max(s.maxInFlight, s.inFlight)
	s.mu.Unlock()

	if s.createDelay > 0 {
		select {
		case <-time.After(s.createDelay):
		case <-ctx.Done():
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--

	n, _ := props.Number(ledger.PropNumber)
	s.creates[int(n)]++
	s.calls = append(s.calls, storeCall{Op: "create", Target: strconv.Itoa(int(n)), Blocks: children})
	if err := s.failCreate[int(n)]; err != nil && !s.truncate[int(n)] {
		return nil, err
	}

	e := ledger.Entry{ID: s.nextID("entry"), Properties: props}
	for _, b := range children {
		b.ID = s.nextID("block")
		e.Blocks = append(e.Blocks, b)
	}
	s.entries = append(s.entries, e)
	out := e
	if s.truncate[int(n)] {
		return &out, &ledgerstore.IncompleteBodyError{EntryID: e.ID, Err: s.failCreate[int(n)]}
	}
	return &out, nil
}

func (s *fakeStore) UpdateEntryProperties(_ context.Context, entryID string, props ledger.Properties) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{Op: "update_properties", Target: entryID})
	e := s.find(entryID)
	if e == nil {
		return fmt.Errorf("page %s: %w", entryID, domain.ErrNotFound)
	}
	for k, v := range props {
		e.Properties[k] = v
	}
	return nil
}

func (s *fakeStore) ListChildBlocks(_ context.Context, entryID, cursor string) (*ledgerstore.BlockPage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{Op: "list_blocks", Target: entryID})
	e := s.find(entryID)
	if e == nil {
		return nil, fmt.Errorf("block %s: %w", entryID, domain.ErrNotFound)
	}
	start := 0
	if cursor != "" {
		start, _ = strconv.Atoi(cursor)
	}
	end := len(e.Blocks)
	if s.blockPageSize > 0 {
		end = min(start+s.blockPageSize, len(e.Blocks))
	}
	page := &ledgerstore.BlockPage{Blocks: append([]ledger.Block(nil), e.Blocks[start:end]...)}
	if end < len(e.Blocks) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (s *fakeStore) UpdateBlock(_ context.Context, blockID string, block ledger.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{Op: "update_block", Target: blockID, Blocks: []ledger.Block{block}})
	for i := range s.entries {
		for j := range s.entries[i].Blocks {
			if s.entries[i].Blocks[j].ID == blockID {
				block.ID = blockID
				s.entries[i].Blocks[j] = block
				return nil
			}
		}
	}
	return fmt.Errorf("block %s: %w", blockID, domain.ErrNotFound)
}

func (s *fakeStore) AppendBlocks(_ context.Context, entryID string, blocks []ledger.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{Op: "append", Target: entryID, Blocks: blocks})
	e := s.find(entryID)
	if e == nil {
		return fmt.Errorf("block %s: %w", entryID, domain.ErrNotFound)
	}
	for _, b := range blocks {
		b.ID = s.nextID("block")
		e.Blocks = append(e.Blocks, b)
	}
	return nil
}

func (s *fakeStore) DeleteBlock(_ context.Context, blockID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, storeCall{Op: "delete_block", Target: blockID})
	if err := s.failDelete[blockID]; err != nil {
		return err
	}
	for i := range s.entries {
		blocks := s.entries[i].Blocks
		for j := range blocks {
			if blocks[j].ID == blockID {
				s.entries[i].Blocks = append(blocks[:j:j], blocks[j+1:]...)
				return nil
			}
		}
	}
	return fmt.Errorf("block %s: %w", blockID, domain.ErrNotFound)
}

func (s *fakeStore) callsOf(op string) []storeCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []storeCall
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// --- broadcast and queue ---

type recordedEvent struct {
	Type    string
	Payload any
}

type fakeHub struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (h *fakeHub) BroadcastEvent(_ context.Context, eventType string, payload any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, recordedEvent{Type: eventType, Payload: payload})
}

type published struct {
	Subject string
	Data    []byte
}

type fakeQueue struct {
	mu       sync.Mutex
	messages []published
}

func (q *fakeQueue) Publish(_ context.Context, subject string, data []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.messages = append(q.messages, published{Subject: subject, Data: data})
	return nil
}

func (q *fakeQueue) Subscribe(context.Context, string, messagequeue.Handler) (func(), error) {
	return func() {}, nil
}

func (q *fakeQueue) Drain() error      { return nil }
func (q *fakeQueue) Close() error      { return nil }
func (q *fakeQueue) IsConnected() bool { return true }

// --- cache ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache { return &memCache{data: make(map[string][]byte)} }

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, false, c.err
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.data[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

var errLedgerDown = errors.New("ledger API 503: service_unavailable")
