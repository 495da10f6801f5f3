package consultest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
)

type kvEntry struct {
	Key         string `json:"Key"`
	Value       []byte `json:"Value"`
	Flags       uint64 `json:"Flags"`
	Session     string `json:"Session,omitempty"`
	CreateIndex uint64 `json:"CreateIndex"`
	ModifyIndex uint64 `json:"ModifyIndex"`
	LockIndex   uint64 `json:"LockIndex"`
}

func (a *Agent) registerKV(rg *gin.RouterGroup) {
	rg.GET("/kv/*key", a.getKV)
	rg.PUT("/kv/*key", a.putKV)
	rg.DELETE("/kv/*key", a.deleteKV)
	rg.PUT("/txn", a.txn)
}

// SetKey writes a key directly, as another client would.
func (a *Agent) SetKey(key, value string) uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	idx := a.bumpLocked()
	a.kvIndex = idx
	writeKV(a.kv, key, []byte(value), 0, idx)
	return idx
}

// Key returns a stored value.
func (a *Agent) Key(key string) (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	e, ok := a.kv[key]
	return string(e.Value), ok
}

func keyParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func hasQuery(c *gin.Context, name string) bool {
	_, ok := c.GetQuery(name)
	return ok
}

func writeKV(m map[string]kvEntry, key string, value []byte, flags, idx uint64) kvEntry {
	e, ok := m[key]
	if !ok {
		e = kvEntry{Key: key, CreateIndex: idx}
	}
	e.Value = value
	e.Flags = flags
	e.ModifyIndex = idx
	m[key] = e
	return e
}

func (a *Agent) sortedKeys(prefix string) []string {
	var keys []string
	for k := range a.kv {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (a *Agent) getKV(c *gin.Context) {
	key := keyParam(c)
	list := hasQuery(c, "recurse") || hasQuery(c, "keys")

	a.block(c, func() uint64 {
		if e, ok := a.kv[key]; ok && !list {
			return e.ModifyIndex
		}
		return a.kvIndex
	})
	defer a.mu.Unlock()

	switch {
	case hasQuery(c, "keys"):
		keys := subKeys(a.sortedKeys(key), key, c.Query("separator"))
		if len(keys) == 0 {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, keys)
	case hasQuery(c, "recurse"):
		keys := a.sortedKeys(key)
		if len(keys) == 0 {
			c.Status(http.StatusNotFound)
			return
		}
		out := make([]kvEntry, 0, len(keys))
		for _, k := range keys {
			out = append(out, a.kv[k])
		}
		c.JSON(http.StatusOK, out)
	default:
		e, ok := a.kv[key]
		if !ok {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusOK, []kvEntry{e})
	}
}

// subKeys truncates every key after the first sep that follows prefix.
func subKeys(keys []string, prefix, sep string) []string {
	if sep == "" {
		return keys
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if i := strings.Index(k[len(prefix):], sep); i >= 0 {
			k = k[:len(prefix)+i+len(sep)]
		}
		if len(out) == 0 || out[len(out)-1] != k {
			out = append(out, k)
		}
	}
	return out
}

func (a *Agent) putKV(c *gin.Context) {
	key := keyParam(c)
	value, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	flags, _ := strconv.ParseUint(c.Query("flags"), 10, 64)

	a.mu.Lock()
	defer a.mu.Unlock()
	e, exists := a.kv[key]

	switch {
	case hasQuery(c, "acquire"):
		sess := c.Query("acquire")
		if _, ok := a.sessions[sess]; !ok {
			c.String(http.StatusInternalServerError, "invalid session %q", sess)
			return
		}
		if exists && e.Session != "" && e.Session != sess {
			c.JSON(http.StatusOK, false)
			return
		}
		idx := a.commitKV()
		e = writeKV(a.kv, key, value, flags, idx)
		if e.Session != sess {
			e.Session = sess
			e.LockIndex++
		}
		a.kv[key] = e
	case hasQuery(c, "release"):
		if !exists || e.Session != c.Query("release") {
			c.JSON(http.StatusOK, false)
			return
		}
		idx := a.commitKV()
		e = writeKV(a.kv, key, value, flags, idx)
		e.Session = ""
		a.kv[key] = e
	case hasQuery(c, "cas"):
		want, err := strconv.ParseUint(c.Query("cas"), 10, 64)
		if err != nil {
			c.String(http.StatusBadRequest, "invalid cas index")
			return
		}
		if (want == 0 && exists) || (want != 0 && (!exists || e.ModifyIndex != want)) {
			c.JSON(http.StatusOK, false)
			return
		}
		writeKV(a.kv, key, value, flags, a.commitKV())
	default:
		writeKV(a.kv, key, value, flags, a.commitKV())
	}
	c.JSON(http.StatusOK, true)
}

// commitKV allocates the index of a key/value write.
func (a *Agent) commitKV() uint64 {
	idx := a.bumpLocked()
	a.kvIndex = idx
	return idx
}

func (a *Agent) deleteKV(c *gin.Context) {
	key := keyParam(c)

	a.mu.Lock()
	defer a.mu.Unlock()
	if hasQuery(c, "recurse") {
		for _, k := range a.sortedKeys(key) {
			delete(a.kv, k)
		}
	} else {
		delete(a.kv, key)
	}
	a.commitKV()
	c.JSON(http.StatusOK, true)
}

type txnOp struct {
	KV *struct {
		Verb    string `json:"Verb"`
		Key     string `json:"Key"`
		Value   []byte `json:"Value"`
		Flags   uint64 `json:"Flags"`
		Index   uint64 `json:"Index"`
		Session string `json:"Session"`
	} `json:"KV"`
}

type txnResult struct {
	KV kvEntry `json:"KV"`
}

type txnError struct {
	OpIndex int    `json:"OpIndex"`
	What    string `json:"What"`
}

func (a *Agent) txn(c *gin.Context) {
	var ops []txnOp
	if err := json.NewDecoder(c.Request.Body).Decode(&ops); err != nil {
		c.String(http.StatusBadRequest, "failed to parse body: %v", err)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	idx := a.index + 1
	kv := make(map[string]kvEntry, len(a.kv))
	for k, v := range a.kv {
		kv[k] = v
	}

	var (
		results []txnResult
		errs    []txnError
	)
	fail := func(i int, format string, args ...any) {
		errs = append(errs, txnError{OpIndex: i, What: fmt.Sprintf(format, args...)})
	}
	for i, op := range ops {
		if op.KV == nil {
			fail(i, "unsupported operation")
			continue
		}
		o := op.KV
		e, exists := kv[o.Key]
		switch o.Verb {
		case "set":
			results = append(results, txnResult{writeKV(kv, o.Key, o.Value, o.Flags, idx)})
		case "cas":
			if (o.Index == 0 && exists) || (o.Index != 0 && e.ModifyIndex != o.Index) {
				fail(i, "failed to set key %q, index is stale", o.Key)
				continue
			}
			results = append(results, txnResult{writeKV(kv, o.Key, o.Value, o.Flags, idx)})
		case "get":
			if !exists {
				fail(i, "key %q doesn't exist", o.Key)
				continue
			}
			results = append(results, txnResult{e})
		case "get-tree":
			for k, v := range kv {
				if strings.HasPrefix(k, o.Key) {
					results = append(results, txnResult{v})
				}
			}
		case "check-index":
			if !exists || e.ModifyIndex != o.Index {
				fail(i, "current modify index %d != %d", e.ModifyIndex, o.Index)
			}
		case "check-not-exists":
			if exists {
				fail(i, "key %q exists", o.Key)
			}
		case "check-session":
			if e.Session != o.Session {
				fail(i, "key %q is not locked by session %q", o.Key, o.Session)
			}
		case "delete":
			delete(kv, o.Key)
		case "delete-tree":
			for k := range kv {
				if strings.HasPrefix(k, o.Key) {
					delete(kv, k)
				}
			}
		default:
			fail(i, "unknown KV verb %q", o.Verb)
		}
	}

	if len(errs) > 0 {
		c.JSON(http.StatusConflict, gin.H{"Results": nil, "Errors": errs})
		return
	}
	a.kv = kv
	a.commitKV()
	c.JSON(http.StatusOK, gin.H{"Results": results, "Errors": nil})
}
