package consul

import (
	"sort"
	"strconv"
	"time"

	"github.com/oliora/ppconsul-sub000/pkg/kw"
)

// ConsistencyMode selects the read consistency of a query.
type ConsistencyMode int

const (
	// Default lets the agent pick (leader reads, possibly stale by one round).
	Default ConsistencyMode = iota
	// Consistent forces a leader round-trip before answering.
	Consistent
	// Stale lets any server answer.
	Stale
)

func (m ConsistencyMode) String() string {
	switch m {
	case Consistent:
		return "consistent"
	case Stale:
		return "stale"
	default:
		return "default"
	}
}

// BlockingQuery turns a read into a long poll: the agent holds the request
// for up to Wait unless the resource's index moves past Index.
type BlockingQuery struct {
	Wait  time.Duration
	Index uint64
}

// Keywords shared by most endpoints.
var (
	DC          = kw.New[string]("dc", kw.String)
	Token       = kw.New[string]("token", nil)
	Consistency = kw.New[ConsistencyMode]("consistency", renderConsistency)
	BlockFor    = kw.New[BlockingQuery]("block_for", renderBlockFor)
	Tag         = kw.New[string]("tag", kw.String)
	Near        = kw.New[string]("near", kw.String)
	NodeMeta    = kw.New[map[string]string]("node-meta", renderNodeMeta)
	Filter      = kw.New[string]("filter", kw.String)
)

// Keyword groups shared by facades.
var (
	GroupAuth  = kw.NewGroup(Token)
	GroupDC    = kw.NewGroup(DC, Token)
	GroupQuery = kw.NewGroup(Consistency, DC, BlockFor, Token)
)

// Block is shorthand for BlockFor.Set(BlockingQuery{wait, index}).
func Block(wait time.Duration, index uint64) kw.Arg {
	return BlockFor.Set(BlockingQuery{Wait: wait, Index: index})
}

func renderConsistency(name string, m ConsistencyMode) []string {
	switch m {
	case Consistent, Stale:
		return []string{name + "=" + m.String()}
	}
	return nil
}

func renderBlockFor(_ string, q BlockingQuery) []string {
	return []string{
		"wait=" + kw.FormatSeconds(q.Wait),
		"index=" + strconv.FormatUint(q.Index, 10),
	}
}

func renderNodeMeta(name string, meta map[string]string) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, kw.Token(name, k+":"+meta[k]))
	}
	return out
}
