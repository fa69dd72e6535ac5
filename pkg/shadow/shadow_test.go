package shadow_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	id "shadowrt/pkg/domain"
	dErrors "shadowrt/pkg/domain-errors"
	"shadowrt/pkg/label"
	"shadowrt/pkg/platform/provenance"
	"shadowrt/pkg/platform/provenance/store/memory"
	"shadowrt/pkg/requestcontext"
	"shadowrt/pkg/shadow"
)

type purchase struct {
	Item   string `json:"item"`
	Amount int    `json:"amount"`
}

type switchableStore struct {
	*memory.InMemoryStore
	mu   sync.Mutex
	fail bool
}

func (s *switchableStore) Append(ctx context.Context, e provenance.Event) error {
	s.mu.Lock()
	fail := s.fail
	s.mu.Unlock()
	if fail {
		return errors.New("disk full")
	}
	return s.InMemoryStore.Append(ctx, e)
}

func (s *switchableStore) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

type RuntimeSuite struct {
	suite.Suite
	store *switchableStore
	rt    *shadow.Runtime
	ctx   context.Context
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}

func (s *RuntimeSuite) SetupTest() {
	s.store = &switchableStore{InMemoryStore: memory.NewInMemoryStore()}
	s.rt = shadow.New(provenance.New("Shop", s.store))
	s.ctx = context.Background()
}

func (s *RuntimeSuite) events(user id.UserID) []provenance.Event {
	events, err := s.rt.Log().Events(s.ctx, user)
	s.Require().NoError(err)
	return events
}

func (s *RuntimeSuite) allEvents() []provenance.Event {
	events, err := s.rt.Log().AllEvents(s.ctx)
	s.Require().NoError(err)
	return events
}

func (s *RuntimeSuite) paymentSource(calls *int) func(context.Context, purchase) (label.Tagged[map[string]any], error) {
	return shadow.Source(s.rt, "build_payment_blob", func(_ context.Context, p purchase) (map[string]any, error) {
		*calls++
		return map[string]any{"item": p.Item, "amount": p.Amount}, nil
	})
}

func (s *RuntimeSuite) TestAsUserScopesIdentityToTheCall() {
	got, err := shadow.AsUser(s.ctx, "u1", func(ctx context.Context) (id.UserID, error) {
		u, ok := requestcontext.ActingUser(ctx)
		s.True(ok)
		return u, nil
	})
	s.Require().NoError(err)
	s.Equal(id.UserID("u1"), got)

	_, ok := requestcontext.ActingUser(s.ctx)
	s.False(ok, "identity must not leak past AsUser")
}

func (s *RuntimeSuite) TestSourceWithoutIdentityFailsBeforeRunning() {
	calls := 0
	_, err := s.paymentSource(&calls)(s.ctx, purchase{Item: "pen", Amount: 500})

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeNoIdentityContext))
	s.Zero(calls)
	s.Empty(s.allEvents())
}

func (s *RuntimeSuite) TestSourceWithMaskedIdentityFails() {
	calls := 0
	ctx := requestcontext.WithoutActingUser(requestcontext.WithActingUser(s.ctx, "u1"))
	_, err := s.paymentSource(&calls)(ctx, purchase{})
	s.True(dErrors.HasCode(err, dErrors.CodeNoIdentityContext))
}

func (s *RuntimeSuite) TestSourceLabelsAndLogsExactlyOnce() {
	calls := 0
	build := s.paymentSource(&calls)

	tagged, err := shadow.AsUser(s.ctx, "u1", func(ctx context.Context) (label.Tagged[map[string]any], error) {
		return build(ctx, purchase{Item: "pen", Amount: 500})
	})
	s.Require().NoError(err)
	s.Equal(1, calls)
	s.True(tagged.IsTagged())
	s.Equal(id.UserID("u1"), tagged.Label().UserID())
	s.Equal(label.DeleteAllUserData, tagged.Label().Policies()[label.PolicyDelete])
	s.Equal("pen", tagged.Value()["item"])

	events := s.events("u1")
	s.Require().Len(events, 1)
	e := events[0]
	s.Equal(provenance.OpSource, e.Operation)
	s.Equal(tagged.Label().TagID(), e.TagID)
	s.Equal("Shop", e.SourceApp)
	s.Empty(e.DestinationApp)
	s.Equal("build_payment_blob", e.Metadata["function"])
	s.Equal(provenance.SHA256().Hash([]byte(`{"amount":500,"item":"pen"}`)), e.PayloadHash)
}

func (s *RuntimeSuite) TestSourceMintsFreshTagsPerCall() {
	calls := 0
	build := s.paymentSource(&calls)
	ctx := requestcontext.WithActingUser(s.ctx, "u1")

	a, err := build(ctx, purchase{Item: "pen", Amount: 500})
	s.Require().NoError(err)
	b, err := build(ctx, purchase{Item: "pen", Amount: 500})
	s.Require().NoError(err)

	s.NotEqual(a.Label().TagID(), b.Label().TagID())
	s.Len(s.events("u1"), 2)
}

func (s *RuntimeSuite) TestSourceErrorLeavesNoTrace() {
	boom := errors.New("inventory offline")
	build := shadow.Source(s.rt, "lookup", func(context.Context, string) (string, error) { return "", boom })

	tagged, err := build(requestcontext.WithActingUser(s.ctx, "u1"), "sku")
	s.ErrorIs(err, boom)
	s.False(tagged.IsTagged())
	s.Empty(s.allEvents())
}

func (s *RuntimeSuite) TestSourceFailsClosedWhenLogIsDown() {
	s.store.setFail(true)
	calls := 0
	tagged, err := s.paymentSource(&calls)(requestcontext.WithActingUser(s.ctx, "u1"), purchase{})
	s.True(dErrors.HasCode(err, dErrors.CodeLogWriteFailure))
	s.False(tagged.IsTagged())
}

func (s *RuntimeSuite) TestSinkRejectsUntaggedValues() {
	called := false
	send := shadow.Sink(s.rt, "Pay", "call_pay", func(context.Context, label.Tagged[string], string) (string, error) {
		called = true
		return "ok", nil
	})

	_, err := send(s.ctx, label.Tagged[string]{}, "billing")
	s.True(dErrors.HasCode(err, dErrors.CodeNotTagged))
	s.False(called)
	s.Empty(s.allEvents())
}

func (s *RuntimeSuite) TestSinkLogsTransferOutBeforeCalling() {
	lbl := label.New("u1", nil)
	send := shadow.Sink(s.rt, "Pay", "call_pay", func(ctx context.Context, v label.Tagged[string], billing string) (string, error) {
		dests, err := s.rt.Log().DestinationsForUser(ctx, "u1")
		s.Require().NoError(err)
		s.Equal([]string{"Pay"}, dests, "transfer_out must be durable before the call")
		return "charged " + v.Value() + " to " + billing, nil
	})

	resp, err := send(s.ctx, label.Wrap("blob", lbl), "1 Main St")
	s.Require().NoError(err)
	s.Equal("charged blob to 1 Main St", resp)

	events := s.events("u1")
	s.Require().Len(events, 1)
	s.Equal(provenance.OpTransferOut, events[0].Operation)
	s.Equal("Pay", events[0].DestinationApp)
	s.Equal(lbl.TagID(), events[0].TagID)
	s.Equal("call_pay", events[0].Metadata["function"])
}

func (s *RuntimeSuite) TestSinkDoesNotCallWhenLogIsDown() {
	s.store.setFail(true)
	called := false
	send := shadow.Sink(s.rt, "Pay", "call_pay", func(context.Context, label.Tagged[string], struct{}) (int, error) {
		called = true
		return 200, nil
	})

	_, err := send(s.ctx, label.Wrap("blob", label.New("u1", nil)), struct{}{})
	s.True(dErrors.HasCode(err, dErrors.CodeLogWriteFailure))
	s.False(called)
}

func (s *RuntimeSuite) TestSinkPassesThroughCallErrors() {
	boom := errors.New("connection refused")
	send := shadow.Sink(s.rt, "Pay", "call_pay", func(context.Context, label.Tagged[string], struct{}) (int, error) {
		return 0, boom
	})
	_, err := send(s.ctx, label.Wrap("blob", label.New("u1", nil)), struct{}{})
	s.ErrorIs(err, boom)
	s.Len(s.events("u1"), 1, "the export was attempted and stays recorded")
}

func (s *RuntimeSuite) TestExport() {
	lbl := label.New("u1", nil)

	got, err := s.rt.Export(s.ctx, "Pay", label.Wrap([]byte("raw"), lbl))
	s.Require().NoError(err)
	s.True(lbl.Equal(got))
	events := s.events("u1")
	s.Require().Len(events, 1)
	s.Equal(provenance.SHA256().Hash([]byte("raw")), events[0].PayloadHash)

	_, err = s.rt.Export(s.ctx, "Pay", "plain string")
	s.True(dErrors.HasCode(err, dErrors.CodeNotTagged))
	_, err = s.rt.Export(s.ctx, "Pay", label.Tagged[int]{})
	s.True(dErrors.HasCode(err, dErrors.CodeNotTagged))
	s.Len(s.events("u1"), 1)
}

func (s *RuntimeSuite) TestReceiveLogsTransferIn() {
	lbl := label.New("u1", label.Policies{"retention": "30d"})
	header, err := s.rt.Header(lbl)
	s.Require().NoError(err)
	body := []byte(`{"item":"pen","amount":500}`)

	got, err := shadow.Receive[purchase](requestcontext.WithRequestID(s.ctx, "req-1"), s.rt, header, body)
	s.Require().NoError(err)
	s.Equal(purchase{Item: "pen", Amount: 500}, got.Value())
	s.True(lbl.Equal(got.Label()))

	events := s.events("u1")
	s.Require().Len(events, 1)
	s.Equal(provenance.OpTransferIn, events[0].Operation)
	s.Equal(lbl.TagID(), events[0].TagID)
	s.Equal(provenance.SHA256().Hash(body), events[0].PayloadHash)
	s.Equal("req-1", events[0].Metadata["request_id"])
}

func (s *RuntimeSuite) TestReceiveRejectsMalformedHeaders() {
	for _, header := range []string{"", "{", `{"user_id":"u1"}`, `{"tag_id":"t"}`} {
		_, err := shadow.Receive[[]byte](s.ctx, s.rt, header, []byte("x"))
		s.True(dErrors.HasCode(err, dErrors.CodeMalformedLabel), "header %q", header)
	}
	s.Empty(s.allEvents())
}

func (s *RuntimeSuite) TestRecordDomainEvent() {
	eventID, err := s.rt.Record(s.ctx, provenance.InsertOperation("payment"), "u1", "t1", []byte("row"), map[string]any{"table": "payments"})
	s.Require().NoError(err)
	s.NotEmpty(eventID)
	events := s.events("u1")
	s.Require().Len(events, 1)
	s.Equal(provenance.Operation("insert_payment"), events[0].Operation)
}

func (s *RuntimeSuite) TestConcurrentRequestsKeepTheirOwnIdentity() {
	build := shadow.Source(s.rt, "echo", func(_ context.Context, n int) (int, error) { return n, nil })

	var wg sync.WaitGroup
	results := make([]label.Tagged[int], 32)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			user := id.UserID(fmt.Sprintf("user-%d", i))
			tagged, err := shadow.AsUser(s.ctx, user, func(ctx context.Context) (label.Tagged[int], error) {
				return build(ctx, i)
			})
			s.NoError(err)
			results[i] = tagged
		}()
	}
	wg.Wait()

	for i, r := range results {
		s.Equal(id.UserID(fmt.Sprintf("user-%d", i)), r.Label().UserID())
		s.Equal(i, r.Value())
	}
	s.Len(s.allEvents(), len(results))
}

// Shop labels a payment blob for u1 and exports it to Pay, which receives it.
func TestShopToPayScenario(t *testing.T) {
	ctx := context.Background()
	codec, err := label.NewJWTCodec([]byte("shared-secret"))
	require.NoError(t, err)

	shop := shadow.New(provenance.New("Shop", memory.NewInMemoryStore()), shadow.WithCodec(codec))
	pay := shadow.New(provenance.New("Pay", memory.NewInMemoryStore()), shadow.WithCodec(codec))

	build := shadow.Source(shop, "build_payment_blob", func(_ context.Context, p purchase) (purchase, error) { return p, nil })
	var received label.Tagged[purchase]
	callPay := shadow.Sink(shop, "Pay", "call_pay", func(ctx context.Context, v label.Tagged[purchase], _ struct{}) (int, error) {
		header, err := shop.Header(v.Label())
		if err != nil {
			return 0, err
		}
		body := []byte(`{"item":"pen","amount":500}`)
		received, err = shadow.Receive[purchase](ctx, pay, header, body)
		if err != nil {
			return 0, err
		}
		return 200, nil
	})

	blob, err := shadow.AsUser(ctx, "u1", func(ctx context.Context) (label.Tagged[purchase], error) {
		return build(ctx, purchase{Item: "pen", Amount: 500})
	})
	require.NoError(t, err)
	status, err := callPay(ctx, blob, struct{}{})
	require.NoError(t, err)
	assert.Equal(t, 200, status)

	dests, err := shop.Log().DestinationsForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"Pay"}, dests)

	shopEvents, err := shop.Log().Events(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, shopEvents, 2)
	assert.Equal(t, provenance.OpSource, shopEvents[0].Operation)
	assert.Equal(t, provenance.OpTransferOut, shopEvents[1].Operation)

	payEvents, err := pay.Log().Events(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, payEvents, 1)
	assert.Equal(t, provenance.OpTransferIn, payEvents[0].Operation)
	assert.Equal(t, blob.Label().TagID(), payEvents[0].TagID)
	assert.Equal(t, "Pay", payEvents[0].SourceApp)
	assert.True(t, blob.Label().Equal(received.Label()))
	assert.Equal(t, shopEvents[1].PayloadHash, payEvents[0].PayloadHash,
		"both sides hash the same canonical bytes")
}
