package cache_test

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"basegraph.app/coordinator/internal/cache"
)

type failingStore struct{}

func (failingStore) Get(context.Context, string) (cache.Entry, bool, error) {
	return cache.Entry{}, false, errors.New("connection refused")
}

func (failingStore) Set(context.Context, string, cache.Entry) error {
	return errors.New("connection refused")
}

var _ = Describe("Cache", func() {
	var (
		ctx   context.Context
		clock *clockwork.FakeClock
		store *cache.MemoryStore
		c     *cache.Cache
	)

	BeforeEach(func() {
		ctx = context.Background()
		clock = clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
		store = cache.NewMemoryStore()
		c = cache.New(store, clock, 300*time.Second)
	})

	It("serves a value before the TTL elapses", func() {
		Expect(c.Set(ctx, "k", []byte("v"))).To(Succeed())
		clock.Advance(299 * time.Second)

		v, ok := c.Get(ctx, "k")
		Expect(ok).To(BeTrue())
		Expect(string(v)).To(Equal("v"))
	})

	It("expires a value once the TTL has elapsed", func() {
		Expect(c.Set(ctx, "k", []byte("v"))).To(Succeed())
		clock.Advance(300 * time.Second)

		_, ok := c.Get(ctx, "k")
		Expect(ok).To(BeFalse())
	})

	It("keeps an expired entry in the store", func() {
		Expect(c.Set(ctx, "k", []byte("v"))).To(Succeed())
		clock.Advance(time.Hour)

		_, ok := c.Get(ctx, "k")
		Expect(ok).To(BeFalse())
		Expect(store.Len()).To(Equal(1))
	})

	It("restamps an entry on overwrite", func() {
		Expect(c.Set(ctx, "k", []byte("old"))).To(Succeed())
		clock.Advance(250 * time.Second)
		Expect(c.Set(ctx, "k", []byte("new"))).To(Succeed())
		clock.Advance(250 * time.Second)

		v, ok := c.Get(ctx, "k")
		Expect(ok).To(BeTrue())
		Expect(string(v)).To(Equal("new"))
	})

	It("does not let callers mutate stored bytes", func() {
		buf := []byte("abc")
		Expect(c.Set(ctx, "k", buf)).To(Succeed())
		buf[0] = 'z'

		v, _ := c.Get(ctx, "k")
		v[1] = 'z'

		again, _ := c.Get(ctx, "k")
		Expect(string(again)).To(Equal("abc"))
	})

	It("treats store failures as misses", func() {
		broken := cache.New(failingStore{}, clock, time.Minute)
		_, ok := broken.Get(ctx, "k")
		Expect(ok).To(BeFalse())
		Expect(broken.Set(ctx, "k", nil)).To(HaveOccurred())
	})

	It("round-trips typed values", func() {
		type payload struct{ N int }
		Expect(cache.SetJSON(ctx, c, "k", payload{N: 7})).To(Succeed())

		got, ok := cache.GetJSON[payload](ctx, c, "k")
		Expect(ok).To(BeTrue())
		Expect(got.N).To(Equal(7))
	})
})

var _ = Describe("Key", func() {
	It("joins document, operation and parameters", func() {
		Expect(cache.Key("doc1", "revisions", "48")).To(Equal("doc1:revisions:48"))
		Expect(cache.Key("doc1", "comments")).To(Equal("doc1:comments"))
	})
})
