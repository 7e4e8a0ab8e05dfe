package services

import (
	"context"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/fhost/models"
)

// Subject is what a request exposes to filters. MIME is empty when the
// request carries no file.
type Subject struct {
	Addr netip.Addr
	UA   string
	MIME string
}

// Filter is one moderation rule. The set of implementations is closed.
type Filter interface {
	Check(s Subject) bool
	Reason() string
	isFilter()
}

type AddrFilter struct {
	ID   uint64
	Addr netip.Addr
}

func (f AddrFilter) Check(s Subject) bool { return s.Addr.Unmap() == f.Addr.Unmap() }
func (f AddrFilter) Reason() string {
	return fmt.Sprintf("Your IP Address (%s) is blocked from uploading files.", f.Addr.Unmap())
}
func (AddrFilter) isFilter() {}

type NetFilter struct {
	ID  uint64
	Net netip.Prefix
}

func (f NetFilter) Check(s Subject) bool { return s.Addr.IsValid() && f.Net.Contains(s.Addr.Unmap()) }
func (f NetFilter) Reason() string {
	return fmt.Sprintf("Your network (%s) is blocked from uploading files.", f.Net.Masked())
}
func (NetFilter) isFilter() {}

// MIMEFilter matches the start of a file's MIME type.
type MIMEFilter struct {
	ID uint64
	Re *regexp.Regexp
}

func (f MIMEFilter) Check(s Subject) bool {
	return s.MIME != "" && f.Re != nil && f.Re.MatchString(s.MIME)
}
func (MIMEFilter) Reason() string { return "File MIME type not allowed." }
func (MIMEFilter) isFilter()      {}

// UAFilter matches the start of the User-Agent header.
type UAFilter struct {
	ID uint64
	Re *regexp.Regexp
}

func (f UAFilter) Check(s Subject) bool { return f.Re != nil && f.Re.MatchString(s.UA) }
func (UAFilter) Reason() string         { return "User agent not allowed." }
func (UAFilter) isFilter()              {}

type compiled struct {
	re  *regexp.Regexp
	err error
}

// FilterEngine loads filters from the database and evaluates them in id order.
type FilterEngine struct {
	db      *gorm.DB
	log     *zap.Logger
	regexes *expirable.LRU[string, compiled]
}

// NewFilterEngine creates an engine. Compiled patterns are cached for ten minutes.
func NewFilterEngine(db *gorm.DB, log *zap.Logger) *FilterEngine {
	return &FilterEngine{
		db:      db,
		log:     log,
		regexes: expirable.NewLRU[string, compiled](256, nil, 10*time.Minute),
	}
}

// compile anchors pattern at the start of the subject, like a prefix match.
func (e *FilterEngine) compile(pattern string) (*regexp.Regexp, error) {
	if c, ok := e.regexes.Get(pattern); ok {
		return c.re, c.err
	}
	re, err := regexp.Compile(`^(?:` + pattern + `)`)
	e.regexes.Add(pattern, compiled{re: re, err: err})
	if err != nil {
		e.log.Warn("request filter has invalid pattern", zap.String("pattern", pattern), zap.Error(err))
	}
	return re, err
}

// Variant converts a stored row into its filter type. Rows with an unknown
// type or an invalid pattern yield ok=false.
func (e *FilterEngine) Variant(row models.RequestFilter) (Filter, bool) {
	switch row.Type {
	case models.FilterTypeAddr:
		if !row.Addr.IsValid() {
			return nil, false
		}
		return AddrFilter{ID: row.ID, Addr: row.Addr.Addr}, true
	case models.FilterTypeNet:
		if !row.Net.IsValid() {
			return nil, false
		}
		return NetFilter{ID: row.ID, Net: row.Net.Prefix}, true
	case models.FilterTypeMIME, models.FilterTypeUA:
		if row.Regex == nil {
			return nil, false
		}
		re, err := e.compile(*row.Regex)
		if err != nil {
			return nil, false
		}
		if row.Type == models.FilterTypeMIME {
			return MIMEFilter{ID: row.ID, Re: re}, true
		}
		return UAFilter{ID: row.ID, Re: re}, true
	}
	return nil, false
}

func (e *FilterEngine) load(ctx context.Context, types ...string) ([]Filter, error) {
	var rows []models.RequestFilter
	q := e.db.WithContext(ctx).Order("id")
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load request filters: %w", err)
	}
	out := make([]Filter, 0, len(rows))
	for _, row := range rows {
		if f, ok := e.Variant(row); ok {
			out = append(out, f)
		}
	}
	return out, nil
}

func firstMatch(filters []Filter, s Subject) *PolicyViolation {
	for _, f := range filters {
		if f.Check(s) {
			return &PolicyViolation{Reason: f.Reason()}
		}
	}
	return nil
}

// Evaluate runs every filter against s. A nil violation means the request may proceed.
func (e *FilterEngine) Evaluate(ctx context.Context, s Subject) (*PolicyViolation, error) {
	s.Addr = s.Addr.Unmap()
	filters, err := e.load(ctx)
	if err != nil {
		return nil, err
	}
	return firstMatch(filters, s), nil
}

// EvaluateMIME runs only the MIME filters, against a sniffed type.
func (e *FilterEngine) EvaluateMIME(ctx context.Context, mime string) (*PolicyViolation, error) {
	filters, err := e.load(ctx, models.FilterTypeMIME)
	if err != nil {
		return nil, err
	}
	return firstMatch(filters, Subject{MIME: mime}), nil
}

// FilterStore manages filter rows for operators.
type FilterStore struct {
	db *gorm.DB
}

func NewFilterStore(db *gorm.DB) *FilterStore {
	return &FilterStore{db: db}
}

// Add parses value according to kind and stores a new filter.
func (s *FilterStore) Add(ctx context.Context, kind, value, comment string) (*models.RequestFilter, error) {
	row := models.RequestFilter{Type: kind, Comment: comment}
	value = strings.TrimSpace(value)
	switch kind {
	case models.FilterTypeAddr:
		a, err := netip.ParseAddr(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		row.Addr = models.NewIPAddr(a)
	case models.FilterTypeNet:
		p, err := netip.ParsePrefix(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		if p.Addr().Is4In6() && p.Bits() >= 96 {
			p = netip.PrefixFrom(p.Addr().Unmap(), p.Bits()-96)
		}
		row.Net = models.IPNetwork{Prefix: p.Masked()}
	case models.FilterTypeMIME, models.FilterTypeUA:
		if _, err := regexp.Compile(value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		row.Regex = &value
	default:
		return nil, fmt.Errorf("%w: unknown filter type %q", ErrInvalidRequest, kind)
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create filter: %w", err)
	}
	return &row, nil
}

func (s *FilterStore) List(ctx context.Context) ([]models.RequestFilter, error) {
	var rows []models.RequestFilter
	if err := s.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list filters: %w", err)
	}
	return rows, nil
}

func (s *FilterStore) Remove(ctx context.Context, id uint64) error {
	res := s.db.WithContext(ctx).Delete(&models.RequestFilter{}, id)
	if res.Error != nil {
		return fmt.Errorf("remove filter: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
