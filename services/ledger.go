package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/netip"
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/fhost/codec"
	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/models"
	"github.com/cppla/fhost/storage"
	"github.com/cppla/fhost/utils"
)

const (
	maxMIMELength  = 128
	mgmtTokenBytes = 32
	storeAttempts  = 3
)

// NSFWDetector scores a stored file between 0 and 1.
type NSFWDetector interface {
	Score(ctx context.Context, path string) (float64, error)
}

// Ledger records uploads and decides, per content digest, whether an upload
// creates, revives or extends a file.
type Ledger struct {
	db       *gorm.DB
	store    *storage.ContentStore
	policy   *ExpirationPolicy
	filters  *FilterEngine
	codec    *codec.Codec
	log      *zap.Logger
	nsfw     NSFWDetector
	cfg      config.AppConfig
	urlCache URLCache

	// findByDigest is swapped in tests to force the unique-violation path.
	findByDigest func(tx *gorm.DB, digest string) (*models.File, error)
}

func NewLedger(db *gorm.DB, store *storage.ContentStore, policy *ExpirationPolicy, filters *FilterEngine, c *codec.Codec, cfg config.AppConfig, log *zap.Logger) *Ledger {
	return &Ledger{
		db:           db,
		store:        store,
		policy:       policy,
		filters:      filters,
		codec:        c,
		cfg:          cfg,
		log:          log,
		findByDigest: findByDigest,
	}
}

// WithNSFWDetector enables scoring of newly stored files.
func (l *Ledger) WithNSFWDetector(d NSFWDetector) *Ledger {
	l.nsfw = d
	return l
}

// WithURLCache enables caching of short URL lookups.
func (l *Ledger) WithURLCache(c URLCache) *Ledger {
	l.urlCache = c
	return l
}

func findByDigest(tx *gorm.DB, digest string) (*models.File, error) {
	var f models.File
	err := tx.Where("sha256 = ?", digest).First(&f).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "unique failed")
}

// Store records tf. The returned bool is true when the caller should receive
// the management token: the digest was new or its record was revived.
func (l *Ledger) Store(ctx context.Context, tf *TransferFile, requested *int64, addr netip.Addr, ua string, wantSecret bool) (*models.File, bool, error) {
	if len(tf.MIME) > maxMIMELength {
		return nil, false, ErrMIMETooLong
	}
	violation, err := l.filters.EvaluateMIME(ctx, tf.MIMEDetected)
	if err != nil {
		return nil, false, err
	}
	if violation != nil {
		return nil, false, violation
	}

	expiration := l.policy.Effective(requested, tf.Size)
	wrote, err := l.saveBytes(ctx, tf)
	if err != nil {
		return nil, false, err
	}

	for attempt := 1; ; attempt++ {
		rec, isNew, err := l.storeOnce(ctx, tf, expiration, addr, ua, wantSecret)
		if errors.Is(err, ErrPermanentlyBlocked) && wrote {
			// taken down while the bytes were being written
			if derr := l.store.Delete(tf.SHA256); derr != nil {
				l.log.Warn("remove blocked content", zap.String("sha256", tf.SHA256), zap.Error(derr))
			}
		}
		if err == nil {
			result := "existing"
			if isNew {
				result = "new"
			}
			uploadsTotal.WithLabelValues(result).Inc()
			return rec, isNew, nil
		}
		if !isUniqueConstraintError(err) || attempt >= storeAttempts {
			return nil, false, err
		}
		l.log.Debug("digest inserted concurrently, retrying", zap.String("sha256", tf.SHA256), zap.Int("attempt", attempt))
	}
}

// saveBytes writes the content before the record transaction so a large
// upload does not hold the database. A digest that was taken down is never
// written. Bytes left behind by a failed transaction are reused by the next
// upload of the same content.
func (l *Ledger) saveBytes(ctx context.Context, tf *TransferFile) (bool, error) {
	existing, err := findByDigest(l.db.WithContext(ctx), tf.SHA256)
	if err != nil {
		return false, fmt.Errorf("lookup digest: %w", err)
	}
	if existing != nil && existing.Removed {
		return false, ErrPermanentlyBlocked
	}
	if l.store.Exists(tf.SHA256) {
		return false, nil
	}
	if _, err := tf.Body.Seek(0, io.SeekStart); err != nil {
		return false, fmt.Errorf("rewind upload: %w", err)
	}
	if err := l.store.Save(tf.Body, tf.SHA256); err != nil {
		return false, err
	}
	return true, nil
}

func (l *Ledger) storeOnce(ctx context.Context, tf *TransferFile, expiration int64, addr netip.Addr, ua string, wantSecret bool) (*models.File, bool, error) {
	var rec *models.File
	isNew := true

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := l.findByDigest(tx, tf.SHA256)
		if err != nil {
			return fmt.Errorf("lookup digest: %w", err)
		}

		switch {
		case existing == nil:
			token, err := utils.RandomToken(mgmtTokenBytes)
			if err != nil {
				return err
			}
			rec = &models.File{
				SHA256:     tf.SHA256,
				Ext:        tf.Ext,
				MIME:       tf.MIME,
				Expiration: &expiration,
				MgmtToken:  &token,
			}
			if tf.Name != "" {
				name := tf.Name
				rec.Filename = &name
			}
		case existing.Removed:
			return ErrPermanentlyBlocked
		case existing.Expiration == nil:
			rec = existing
			token, err := utils.RandomToken(mgmtTokenBytes)
			if err != nil {
				return err
			}
			rec.Expiration = &expiration
			rec.MgmtToken = &token
		default:
			rec = existing
			if *rec.Expiration < expiration {
				rec.Expiration = &expiration
			}
			isNew = false
		}

		rec.Addr = models.NewIPAddr(addr)
		rec.UA = ua

		if isNew {
			rec.Secret = nil
			if wantSecret {
				secret, err := utils.RandomToken(l.cfg.SecretBytes)
				if err != nil {
					return err
				}
				rec.Secret = &secret
			}
		}

		// pruned between saveBytes and here
		if !l.store.Exists(tf.SHA256) {
			if _, err := tf.Body.Seek(0, io.SeekStart); err != nil {
				return fmt.Errorf("rewind upload: %w", err)
			}
			if err := l.store.Save(tf.Body, tf.SHA256); err != nil {
				return err
			}
		}

		// Size follows the latest upload of this digest.
		rec.Size = tf.Size

		if rec.NSFWScore == nil && l.nsfw != nil && l.cfg.NSFWDetect {
			score, err := l.nsfw.Score(ctx, l.store.PathFor(tf.SHA256))
			if err != nil {
				l.log.Warn("nsfw detection failed", zap.String("sha256", tf.SHA256), zap.Error(err))
			} else {
				rec.NSFWScore = &score
			}
		}

		return tx.Save(rec).Error
	})
	if err != nil {
		return nil, false, err
	}
	return rec, isNew, nil
}

// ManageAction is what a token holder asked for. Delete wins over Expires.
type ManageAction struct {
	Delete  bool
	Expires *int64
}

// ManageOutcome tells the caller which action was applied.
type ManageOutcome int

const (
	ManageDeleted ManageOutcome = iota + 1
	ManageExpirationSet
)

// Manage applies a token holder's action to f.
func (l *Ledger) Manage(ctx context.Context, f *models.File, token string, action ManageAction) (ManageOutcome, error) {
	if f.MgmtToken == nil || !utils.TokenEqual(token, *f.MgmtToken) {
		return 0, ErrUnauthorized
	}
	switch {
	case action.Delete:
		if err := l.remove(ctx, f, false); err != nil {
			return 0, err
		}
		return ManageDeleted, nil
	case action.Expires != nil:
		exp := l.policy.Effective(action.Expires, f.Size)
		if err := l.db.WithContext(ctx).Model(f).Update("expiration", exp).Error; err != nil {
			return 0, fmt.Errorf("update expiration: %w", err)
		}
		f.Expiration = &exp
		return ManageExpirationSet, nil
	}
	return 0, ErrInvalidRequest
}

// Takedown removes f permanently; its digest will never be accepted again.
func (l *Ledger) Takedown(ctx context.Context, f *models.File) error {
	return l.remove(ctx, f, true)
}

func (l *Ledger) remove(ctx context.Context, f *models.File, permanent bool) error {
	err := l.db.WithContext(ctx).Model(f).Updates(map[string]any{
		"expiration": nil,
		"mgmt_token": nil,
		"removed":    permanent,
	}).Error
	if err != nil {
		return fmt.Errorf("remove file %d: %w", f.ID, err)
	}
	f.Expiration = nil
	f.MgmtToken = nil
	f.Removed = permanent
	return l.store.Delete(f.SHA256)
}

// PublicName is the file's path segment: encoded id plus extension.
func (l *Ledger) PublicName(f *models.File) string {
	return l.codec.EncodeUint64(f.ID) + f.Ext
}

// IsNSFW reports whether links to f should carry the nsfw anchor.
func (l *Ledger) IsNSFW(f *models.File) bool {
	return l.cfg.NSFWDetect && f.NSFWScore != nil && *f.NSFWScore > l.cfg.NSFWThreshold
}

// FileURL renders the public link for f under base, newline terminated.
func (l *Ledger) FileURL(base string, f *models.File) string {
	var b strings.Builder
	b.WriteString(strings.TrimRight(base, "/"))
	if f.Secret != nil {
		b.WriteString("/s/")
		b.WriteString(url.PathEscape(*f.Secret))
	}
	b.WriteString("/")
	b.WriteString(l.PublicName(f))
	if f.Filename != nil && *f.Filename != "" {
		b.WriteString("/")
		b.WriteString(url.PathEscape(*f.Filename))
	}
	if l.IsNSFW(f) {
		b.WriteString("#nsfw")
	}
	b.WriteString("\n")
	return b.String()
}

// ParsedPath is a request path split into its public name parts.
type ParsedPath struct {
	ID      uint64
	Ext     string
	HasRest bool
}

// ParsePath splits the first path segment into an encoded id and up to two
// extension suffixes. Any other dot in the name makes the path unknown.
func (l *Ledger) ParsePath(path string) (ParsedPath, error) {
	path = strings.TrimPrefix(path, "/")
	first, _, hasRest := strings.Cut(path, "/")
	sfx := suffixes(first)
	if len(sfx) > 2 {
		sfx = sfx[len(sfx)-2:]
	}
	ext := strings.Join(sfx, "")
	name := strings.TrimSuffix(first, ext)
	if name == "" || strings.Contains(name, ".") {
		return ParsedPath{}, ErrNotFound
	}
	id, err := l.codec.DecodeUint64(name)
	if err != nil || id > math.MaxInt64 {
		// ids are signed in every database
		return ParsedPath{}, ErrNotFound
	}
	return ParsedPath{ID: id, Ext: ext, HasRest: hasRest}, nil
}

// ResolveFile finds the servable file for p. secret is nil for links
// outside /s/. Unknown ids, wrong extensions, wrong secrets and missing
// bytes are all ErrNotFound.
func (l *Ledger) ResolveFile(ctx context.Context, p ParsedPath, secret *string) (*models.File, error) {
	var f models.File
	err := l.db.WithContext(ctx).First(&f, p.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load file %d: %w", p.ID, err)
	}
	if f.Ext != p.Ext {
		return nil, ErrNotFound
	}
	switch {
	case f.Secret == nil && secret == nil:
	case f.Secret != nil && secret != nil && utils.TokenEqual(*secret, *f.Secret):
	default:
		return nil, ErrNotFound
	}
	if f.Removed {
		return nil, ErrPermanentlyBlocked
	}
	if !f.HasBytes() || !l.store.Exists(f.SHA256) {
		return nil, ErrNotFound
	}
	return &f, nil
}

// FindByName loads a file by its public name, for operator commands.
func (l *Ledger) FindByName(ctx context.Context, name string) (*models.File, error) {
	p, err := l.ParsePath(name)
	if err != nil {
		return nil, err
	}
	var f models.File
	err = l.db.WithContext(ctx).First(&f, p.ID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}
