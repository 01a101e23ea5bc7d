package usecase

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"FeedNotifier/internal/config"
	"FeedNotifier/internal/domain"
	"FeedNotifier/internal/infrastructure/parser"
	"FeedNotifier/internal/infrastructure/storage"
)

const helloFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel>
  <item>
    <title>Hello</title>
    <link>https://board.example.com/post-42-1.html</link>
    <description>greetings from the board</description>
    <category>news</category>
    <author>alice</author>
  </item>
</channel></rss>`

type staticSource struct {
	posts []domain.Post
	err   error
}

func (s staticSource) FetchPosts(context.Context) ([]domain.Post, error) {
	return s.posts, s.err
}

type sentMessage struct {
	address string
	n       domain.Notification
}

type fakeChannel struct {
	mu    sync.Mutex
	sent  []sentMessage
	fail  map[string]error
	panic map[string]bool
}

func (f *fakeChannel) Send(_ context.Context, address string, n domain.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.panic[address] {
		panic("boom")
	}
	if err := f.fail[address]; err != nil {
		return err
	}
	f.sent = append(f.sent, sentMessage{address: address, n: n})
	return nil
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()

	st, err := storage.Open(context.Background(), config.DatabaseConfig{
		Driver: storage.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "feed.db"),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func subscribe(t *testing.T, st *storage.Store, address string, filters ...domain.Filter) (int64, []int64) {
	t.Helper()

	ctx := context.Background()
	id, err := st.CreateSubscriber(ctx, address)
	require.NoError(t, err)

	var ids []int64
	for _, f := range filters {
		f.SubscriberID = id
		f.Active = true
		fid, err := st.CreateFilter(ctx, f)
		require.NoError(t, err)
		ids = append(ids, fid)
	}
	return id, ids
}

func keyword(words ...string) domain.Filter {
	f := domain.Filter{KeywordCount: len(words)}
	slots := []*string{&f.Keyword1, &f.Keyword2, &f.Keyword3}
	for i, w := range words {
		*slots[i] = w
	}
	return f
}

func newIngestor(st *storage.Store, source staticSource) *Ingestor {
	return NewIngestor(IngestorDeps{Source: source, Posts: st, Registry: st, Ledger: st})
}

func newDispatcher(st *storage.Store, ch *fakeChannel) *Dispatcher {
	return NewDispatcher(DispatcherDeps{Ledger: st, Registry: st, Channel: ch})
}

func feedPosts(t *testing.T, raw string) []domain.Post {
	t.Helper()

	posts, err := parser.Parse([]byte(raw))
	require.NoError(t, err)
	return posts
}

func TestIngestAndDispatchHelloPost(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()

	sub, filters := subscribe(t, st, "555", keyword("hello"))

	stats, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestStats{Parsed: 1, Inserted: 1, Scanned: 1, Obligations: 1}, stats)

	post, err := st.Post(ctx, "42")
	require.NoError(t, err)
	assert.True(t, post.Matched)

	ch := &fakeChannel{}
	dstats, err := newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, dstats.Sent)

	require.Len(t, ch.sent, 1)
	assert.Equal(t, "555", ch.sent[0].address)
	assert.Equal(t, "42", ch.sent[0].n.PostID)
	assert.Equal(t, "Hello", ch.sent[0].n.Title)
	assert.Equal(t, []string{"hello"}, ch.sent[0].n.Keywords)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.ObligationKey{SubscriberID: sub, PostID: "42", FilterID: filters[0]}, all[0].Key)
	assert.Equal(t, domain.StatusSent, all[0].Status)
}

func TestIngestIsIdempotent(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "555", keyword("hello"))

	ing := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)})
	_, err := ing.Run(ctx)
	require.NoError(t, err)

	stats, err := ing.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 0, stats.Scanned)
	assert.Equal(t, 0, stats.Obligations)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestFirstMatchingFilterWins(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	_, filters := subscribe(t, st, "555", keyword("hello"), keyword("news", "alice"))

	stats, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Obligations)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, filters[0], all[0].Key.FilterID)
}

func TestNonMatchingPostIsStillMarkedMatched(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "555", keyword("hello", "rust"))

	stats, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Scanned)
	assert.Equal(t, 0, stats.Obligations)

	unmatched, err := st.Unmatched(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unmatched)
}

func TestIngestSourceUnavailableIsQuiet(t *testing.T) {
	st := openStore(t)

	stats, err := newIngestor(st, staticSource{posts: []domain.Post{}, err: domain.ErrSourceUnavailable}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.IngestStats{}, stats)
}

func TestIngestMalformedFeedKeepsRecoveredPosts(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "555", keyword("complete"))

	raw := `<rss><channel>
	  <item><title>Complete</title><link>https://x.example/post-1-1</link></item>
	  <item><title>Cut off`
	posts, perr := parser.Parse([]byte(raw))
	require.ErrorIs(t, perr, domain.ErrMalformedFeed)

	stats, err := newIngestor(st, staticSource{posts: posts, err: perr}).Run(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Inserted, 1)
	assert.Equal(t, 1, stats.Obligations)
}

func TestPermanentRejectionDeactivatesSubscriber(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	sub, _ := subscribe(t, st, "555", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	ch := &fakeChannel{fail: map[string]error{
		"555": &domain.DeliveryError{Permanent: true, Err: errors.New("Forbidden: bot was blocked by the user")},
	}}
	stats, err := newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Attempted: 1, Failed: 1, Deactivated: 1}, stats)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusFailed, all[0].Status)
	assert.Contains(t, all[0].ErrorDetail, "bot was blocked by the user")

	s, err := st.Subscriber(ctx, sub)
	require.NoError(t, err)
	assert.False(t, s.Active)

	second := `<rss><channel><item><title>Hello again</title><link>https://board.example.com/post-43-1</link></item></channel></rss>`
	istats, err := newIngestor(st, staticSource{posts: feedPosts(t, second)}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, istats.Obligations, "deactivated subscribers get no new obligations")
}

func TestPermanentPhraseWithoutTypedError(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	sub, _ := subscribe(t, st, "555", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	ch := &fakeChannel{fail: map[string]error{"555": errors.New("telegram: Forbidden: user is deactivated (403)")}}
	stats, err := newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Deactivated)

	s, err := st.Subscriber(ctx, sub)
	require.NoError(t, err)
	assert.False(t, s.Active)
}

func TestTransientFailureKeepsSubscriberActive(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	sub, _ := subscribe(t, st, "555", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	ch := &fakeChannel{fail: map[string]error{"555": &domain.DeliveryError{Err: errors.New("Too Many Requests: retry after 5")}}}
	stats, err := newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Attempted: 1, Failed: 1}, stats)

	s, err := st.Subscriber(ctx, sub)
	require.NoError(t, err)
	assert.True(t, s.Active)

	// Failed obligations are terminal and never retried.
	ch.fail = nil
	stats, err = newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Attempted)
	assert.Empty(t, ch.sent)
}

func TestDispatchRecoversFromPanickingChannel(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "111", keyword("hello"))
	subscribe(t, st, "222", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	ch := &fakeChannel{panic: map[string]bool{"111": true}}
	stats, err := newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Attempted)
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)

	require.Len(t, ch.sent, 1)
	assert.Equal(t, "222", ch.sent[0].address)
}

func TestDispatchSkipsSubscriberDeactivatedMidRun(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "555", keyword("board"))

	feed := `<rss><channel>
	  <item><title>board one</title><link>https://x.example/post-1-1</link></item>
	  <item><title>board two</title><link>https://x.example/post-2-1</link></item>
	</channel></rss>`
	_, err := newIngestor(st, staticSource{posts: feedPosts(t, feed)}).Run(ctx)
	require.NoError(t, err)

	ch := &fakeChannel{fail: map[string]error{"555": &domain.DeliveryError{Permanent: true, Err: errors.New("chat not found")}}}
	stats, err := newDispatcher(st, ch).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Attempted: 2, Failed: 2, Deactivated: 1}, stats)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.StatusFailed])
	assert.Equal(t, 0, counts[domain.StatusPending])
}

func TestDispatchStopsOnCancelledContext(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "555", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	pending, err := st.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()

	d := newDispatcher(st, &fakeChannel{})
	// Pending may itself fail under a cancelled context; either way nothing is sent.
	stats, _ := d.Run(cancelled)
	assert.Equal(t, 0, stats.Sent)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending])
}

type recordingScheduler struct {
	jobs    map[string]string
	started bool
	stopped bool
}

func (r *recordingScheduler) Schedule(name, spec string, _ func(context.Context)) error {
	if r.jobs == nil {
		r.jobs = map[string]string{}
	}
	r.jobs[name] = spec
	return nil
}

func (r *recordingScheduler) Start(context.Context) error {
	r.started = true
	return nil
}

func (r *recordingScheduler) Stop(context.Context) error {
	r.stopped = true
	return nil
}

func TestSchedulerRegistersBothJobs(t *testing.T) {
	st := openStore(t)
	driver := &recordingScheduler{}

	s := NewScheduler(driver, newIngestor(st, staticSource{}), newDispatcher(st, &fakeChannel{}), nil)
	require.NoError(t, s.Start(context.Background(), "*/10 * * * *", "*/2 * * * *"))
	require.NoError(t, s.Stop(context.Background()))

	assert.Equal(t, map[string]string{JobIngest: "*/10 * * * *", JobDispatch: "*/2 * * * *"}, driver.jobs)
	assert.True(t, driver.started)
	assert.True(t, driver.stopped)
}

var errInjected = errors.New("injected store failure")

// flakyStore fails selected ledger and registry calls and delegates the rest.
type flakyStore struct {
	*storage.Store
	createFor     map[domain.ObligationKey]bool
	markSentFor   map[int64]bool
	markFailedFor map[int64]bool
	deactivateFor map[int64]bool
}

func (f *flakyStore) CreateObligation(ctx context.Context, o domain.Obligation) (bool, error) {
	if f.createFor[o.Key] {
		return false, errInjected
	}
	return f.Store.CreateObligation(ctx, o)
}

func (f *flakyStore) MarkSent(ctx context.Context, key domain.ObligationKey) error {
	if f.markSentFor[key.SubscriberID] {
		return errInjected
	}
	return f.Store.MarkSent(ctx, key)
}

func (f *flakyStore) MarkFailed(ctx context.Context, key domain.ObligationKey, detail string) error {
	if f.markFailedFor[key.SubscriberID] {
		return errInjected
	}
	return f.Store.MarkFailed(ctx, key, detail)
}

func (f *flakyStore) Deactivate(ctx context.Context, subscriberID int64) error {
	if f.deactivateFor[subscriberID] {
		return errInjected
	}
	return f.Store.Deactivate(ctx, subscriberID)
}

const twoPostFeed = `<rss><channel>
  <item><title>hello one</title><link>https://x.example/post-42-1</link></item>
  <item><title>hello two</title><link>https://x.example/post-43-1</link></item>
</channel></rss>`

func TestObligationFailureDoesNotStopFanOut(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	alice, aliceFilters := subscribe(t, st, "111", keyword("hello"))
	bob, _ := subscribe(t, st, "222", keyword("hello"))

	flaky := &flakyStore{Store: st, createFor: map[domain.ObligationKey]bool{
		{SubscriberID: alice, PostID: "43", FilterID: aliceFilters[0]}: true,
	}}
	ing := NewIngestor(IngestorDeps{
		Source:   staticSource{posts: feedPosts(t, twoPostFeed)},
		Posts:    st,
		Registry: st,
		Ledger:   flaky,
	})

	stats, err := ing.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Scanned)
	assert.Equal(t, 3, stats.Obligations)
	assert.Equal(t, 1, stats.Errors)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	got := map[int64][]string{}
	for _, o := range all {
		got[o.Key.SubscriberID] = append(got[o.Key.SubscriberID], o.Key.PostID)
	}
	assert.ElementsMatch(t, []string{"42"}, got[alice])
	assert.ElementsMatch(t, []string{"42", "43"}, got[bob])

	unmatched, err := st.Unmatched(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unmatched, "posts are marked matched even when an obligation insert fails")
}

func TestDispatchBookkeepingFailuresAreCounted(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	first, _ := subscribe(t, st, "111", keyword("hello"))
	second, _ := subscribe(t, st, "222", keyword("hello"))
	third, _ := subscribe(t, st, "333", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	blocked := &domain.DeliveryError{Permanent: true, Err: errors.New("Forbidden: bot was blocked by the user")}
	ch := &fakeChannel{fail: map[string]error{"111": blocked, "222": blocked, "333": blocked}}
	flaky := &flakyStore{
		Store:         st,
		markFailedFor: map[int64]bool{first: true},
		deactivateFor: map[int64]bool{second: true},
	}
	d := NewDispatcher(DispatcherDeps{Ledger: flaky, Registry: flaky, Channel: ch})

	stats, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Attempted: 3, Failed: 3, Deactivated: 2, Errors: 2}, stats)

	counts, err := st.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.StatusPending], "the row whose failure could not be recorded stays pending")
	assert.Equal(t, 2, counts[domain.StatusFailed])

	for id, wantActive := range map[int64]bool{first: false, second: true, third: false} {
		s, err := st.Subscriber(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, wantActive, s.Active, "subscriber %d", id)
	}
}

func TestDeliveredButUnrecordedIsDistinguishable(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	sub, _ := subscribe(t, st, "555", keyword("hello"))

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, helloFeed)}).Run(ctx)
	require.NoError(t, err)

	ch := &fakeChannel{}
	flaky := &flakyStore{Store: st, markSentFor: map[int64]bool{sub: true}}
	d := NewDispatcher(DispatcherDeps{Ledger: flaky, Registry: st, Channel: ch})

	stats, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.DispatchStats{Attempted: 1, Sent: 1, Errors: 1}, stats)
	assert.Len(t, ch.sent, 1)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, domain.StatusFailed, all[0].Status)
	assert.True(t, strings.HasPrefix(all[0].ErrorDetail, DeliveredDetailPrefix), all[0].ErrorDetail)

	// Not resent on the next run.
	stats, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Attempted)
	assert.Len(t, ch.sent, 1)
}

func TestAtomSelfLinksDoNotCollapseTicks(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	subscribe(t, st, "555", keyword("hello"))

	tick := func(id string) string {
		return `<rss version="2.0" xmlns:atom="http://www.w3.org/2005/Atom"><channel><item>
		  <title>hello ` + id + `</title>
		  <link>https://board.example.com/post-` + id + `-1</link>
		  <atom:link href="https://board.example.com/rss" rel="self"/>
		</item></channel></rss>`
	}

	_, err := newIngestor(st, staticSource{posts: feedPosts(t, tick("42"))}).Run(ctx)
	require.NoError(t, err)
	stats, err := newIngestor(st, staticSource{posts: feedPosts(t, tick("43"))}).Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.IngestStats{Parsed: 1, Inserted: 1, Scanned: 1, Obligations: 1}, stats)

	all, err := st.Obligations(ctx)
	require.NoError(t, err)
	var ids []string
	for _, o := range all {
		ids = append(ids, o.Key.PostID)
	}
	assert.ElementsMatch(t, []string{"42", "43"}, ids)
}
