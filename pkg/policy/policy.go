// Package policy implements policy selection and inheritance: resolving a
// layered policy graph for an asset (root-first, circular-safe), scoring
// candidates against selection criteria, and caching selections in a
// bounded LRU.
//
// Merge rules: scalars child-wins, rule arrays concatenated, deduplicated by
// rule id (child wins), then sorted by descending priority; other arrays
// deduplicated by set union.
package policy

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/aigos/cga-engine/pkg/errs"
)

// Rule is one policy rule; arrays of Rule are concatenated, deduplicated by
// ID, then sorted by descending Priority on merge.
type Rule struct {
	ID       string
	Priority int
	Pattern  string
}

// Document is one node in the policy inheritance graph.
type Document struct {
	ID         string
	Extends    string // parent id, empty at the root
	AppliesTo  string // asset-matching pattern; "" means "not set"
	Tags       []string
	Rules      []Rule
	RiskLevels []string // risk-level conditions this policy's scoring checks against
}

// Repository resolves a policy document by id. Callers typically back
// this with an in-memory map of loaded documents.
type Repository interface {
	Get(id string) (Document, bool)
}

// MapRepository is a Repository backed by a plain map, sufficient for a
// model where policy documents are loaded once and immutable.
type MapRepository map[string]Document

func (m MapRepository) Get(id string) (Document, bool) {
	d, ok := m[id]
	return d, ok
}

const maxInheritanceDepth = 10

// Resolved is the merged result of walking a document's inheritance
// chain root-first.
type Resolved struct {
	ID    string // the originally requested id, preserved across the merge
	Chain []string
	Document
}

// Resolve walks id's `extends` chain root-first, merging each node over
// its ancestors, failing with CircularInheritance on a cycle and
// MaxDepthExceeded past 10 levels.
func Resolve(id string, repo Repository) (*Resolved, error) {
	chain, err := buildChain(id, repo)
	if err != nil {
		return nil, err
	}

	merged := chain[0]
	for _, doc := range chain[1:] {
		merged = mergeDocument(merged, doc)
	}

	ids := make([]string, len(chain))
	for i, d := range chain {
		ids[i] = d.ID
	}
	merged.ID = id
	return &Resolved{ID: id, Chain: ids, Document: merged}, nil
}

// buildChain returns the chain of documents from root to leaf (id last),
// detecting cycles and excessive depth. Every document it returns is
// distinct.
func buildChain(id string, repo Repository) ([]Document, error) {
	var reverse []Document // leaf-to-root order while walking up
	seen := make(map[string]bool)

	current := id
	for {
		if seen[current] {
			return nil, errs.New(errs.CircularInheritance, "policy inheritance cycle detected at %q", current)
		}
		if len(reverse) >= maxInheritanceDepth {
			return nil, errs.New(errs.MaxDepthExceeded, "policy inheritance chain exceeds max depth %d", maxInheritanceDepth)
		}
		doc, ok := repo.Get(current)
		if !ok {
			return nil, errs.New(errs.PolicyNotFound, "policy %q not found", current)
		}
		seen[current] = true
		reverse = append(reverse, doc)
		if doc.Extends == "" {
			break
		}
		current = doc.Extends
	}

	chain := make([]Document, len(reverse))
	for i, d := range reverse {
		chain[len(reverse)-1-i] = d
	}
	return chain, nil
}

// mergeDocument merges child over parent: scalars child-wins, rule arrays
// merged by mergeRules, other arrays deduplicated by set union, applies_to
// replaced by child iff non-default (non-empty).
func mergeDocument(parent, child Document) Document {
	merged := Document{
		ID:        child.ID,
		Extends:   child.Extends,
		AppliesTo: parent.AppliesTo,
		Tags:      unionStrings(parent.Tags, child.Tags),
		Rules:     mergeRules(parent.Rules, child.Rules),
		RiskLevels: unionStrings(parent.RiskLevels, child.RiskLevels),
	}
	if child.AppliesTo != "" {
		merged.AppliesTo = child.AppliesTo
	}
	return merged
}

// mergeRules concatenates parent and child rule arrays, deduplicates by
// id (child's copy of a shared rule id wins), then sorts by descending
// priority.
func mergeRules(parent, child []Rule) []Rule {
	byID := make(map[string]Rule, len(parent)+len(child))
	var order []string
	for _, r := range parent {
		if _, exists := byID[r.ID]; !exists {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}
	for _, r := range child {
		if _, exists := byID[r.ID]; !exists {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}
	merged := make([]Rule, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Priority > merged[j].Priority })
	return merged
}

func unionStrings(a, b []string) []string {
	return lo.Uniq(append(append([]string{}, a...), b...))
}

// Criteria is the selection input: the asset being resolved for, plus the
// dimensions scoring checks against.
type Criteria struct {
	AssetID   string
	RiskLevel string
	Tags      []string
	Mode      string
	Env       string
}

// Selection is the outcome of Select: the winning document and its score.
type Selection struct {
	Document Document
	Score    int
	FromDefault bool
}

// maxRulePriority returns the highest Priority among a document's rules,
// or 0 if it has none.
func maxRulePriority(rules []Rule) int {
	max := 0
	for _, r := range rules {
		if r.Priority > max {
			max = r.Priority
		}
	}
	return max
}

// score implements the selection scoring formula:
// total = 100*[explicit_asset_match] + 50*[matches_risk_level_condition]
//       + 10*|tag∩criteria.tags| + max_rule_priority.
func score(doc Document, criteria Criteria) int {
	total := 0
	if doc.AppliesTo == criteria.AssetID {
		total += 100
	}
	if matchesRiskLevel(doc, criteria.RiskLevel) {
		total += 50
	}
	total += 10 * len(lo.Intersect(doc.Tags, criteria.Tags))
	total += maxRulePriority(doc.Rules)
	return total
}

func matchesRiskLevel(doc Document, riskLevel string) bool {
	if riskLevel == "" {
		return false
	}
	return lo.Contains(doc.RiskLevels, riskLevel)
}

// appliesToAsset reports whether a document's applies_to pattern matches
// an asset id: exact match, a trailing-star prefix match, or the
// universal wildcard.
func appliesToAsset(pattern, assetID string) bool {
	if pattern == "" {
		return false
	}
	if pattern == "*" || pattern == assetID {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(assetID, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// Select iterates every policy in repo whose applies_to matches the
// asset, scores each against criteria, and returns the highest-scoring
// candidate (ties broken by document order). If repo has no matching
// candidate, def is returned instead.
func Select(criteria Criteria, repo AllRepository, def *Document) (*Selection, error) {
	docs := repo.All()
	var best *Document
	bestScore := -1
	for i := range docs {
		doc := docs[i]
		if !appliesToAsset(doc.AppliesTo, criteria.AssetID) {
			continue
		}
		s := score(doc, criteria)
		if s > bestScore {
			bestScore = s
			best = &docs[i]
		}
	}
	if best == nil {
		if def == nil {
			return nil, errs.New(errs.PolicyNotFound, "no policy matches asset %q and no default is configured", criteria.AssetID)
		}
		return &Selection{Document: *def, Score: 0, FromDefault: true}, nil
	}
	return &Selection{Document: *best, Score: bestScore}, nil
}

// AllRepository extends Repository with enumeration, needed for Select's
// full scan over candidate documents.
type AllRepository interface {
	Repository
	All() []Document
}

func (m MapRepository) All() []Document {
	out := make([]Document, 0, len(m))
	var ids []string
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		out = append(out, m[id])
	}
	return out
}

// cacheKey identifies one selection-cache entry: (assetId, riskLevel,
// mode, sorted_tags, env).
func cacheKey(c Criteria) string {
	tags := append([]string{}, c.Tags...)
	sort.Strings(tags)
	return strings.Join([]string{c.AssetID, c.RiskLevel, c.Mode, strings.Join(tags, ","), c.Env}, "\x1f")
}

// lruNode is one entry in the selector cache's doubly-linked list.
type lruNode struct {
	key        string
	value      Selection
	prev, next *lruNode
}

// Cache is a strictly-LRU, mutex-guarded cache of policy selections. The
// zero value is not usable; build one with NewCache.
type Cache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*lruNode
	head     *lruNode // most recently used
	tail     *lruNode // least recently used
}

const defaultCacheCapacity = 100

// NewCache builds a Cache with the given capacity, defaulting to 100
// entries.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	return &Cache{capacity: capacity, entries: make(map[string]*lruNode)}
}

// Get returns a cached Selection for criteria, if present, promoting it
// to most-recently-used.
func (c *Cache) Get(criteria Criteria) (Selection, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(criteria)
	node, ok := c.entries[key]
	if !ok {
		return Selection{}, false
	}
	c.moveToFront(node)
	return node.value, true
}

// Put inserts or updates a cached Selection, evicting the least-recently-
// used entry if the cache is at capacity.
func (c *Cache) Put(criteria Criteria, selection Selection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(criteria)
	if node, ok := c.entries[key]; ok {
		node.value = selection
		c.moveToFront(node)
		return
	}
	node := &lruNode{key: key, value: selection}
	c.entries[key] = node
	c.pushFront(node)
	if len(c.entries) > c.capacity {
		c.evictTail()
	}
}

// Len reports the number of cached entries, mainly for tests.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) pushFront(node *lruNode) {
	node.prev = nil
	node.next = c.head
	if c.head != nil {
		c.head.prev = node
	}
	c.head = node
	if c.tail == nil {
		c.tail = node
	}
}

func (c *Cache) remove(node *lruNode) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		c.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		c.tail = node.prev
	}
	node.prev, node.next = nil, nil
}

func (c *Cache) moveToFront(node *lruNode) {
	if c.head == node {
		return
	}
	c.remove(node)
	c.pushFront(node)
}

func (c *Cache) evictTail() {
	if c.tail == nil {
		return
	}
	tail := c.tail
	c.remove(tail)
	delete(c.entries, tail.key)
}

// Selector ties resolution, scoring, and caching together: SetDefault
// replaces the whole default record rather than mutating it in place.
type Selector struct {
	Repo    AllRepository
	Cache   *Cache
	mu      sync.Mutex
	defRule *Document
}

// SetDefault atomically replaces the selector's default policy.
func (s *Selector) SetDefault(def Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := def
	s.defRule = &d
}

func (s *Selector) defaultDoc() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defRule
}

// Select resolves criteria to a Selection, consulting and populating the
// cache if one is configured.
func (s *Selector) Select(criteria Criteria) (*Selection, error) {
	if s.Cache != nil {
		if cached, ok := s.Cache.Get(criteria); ok {
			return &cached, nil
		}
	}
	selection, err := Select(criteria, s.Repo, s.defaultDoc())
	if err != nil {
		return nil, err
	}
	if s.Cache != nil {
		s.Cache.Put(criteria, *selection)
	}
	return selection, nil
}
