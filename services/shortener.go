package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"github.com/cppla/fhost/models"
)

// URLCache keeps resolved short links. URL rows never change, so entries
// never need invalidation.
type URLCache interface {
	GetURL(ctx context.Context, id uint64) (string, bool)
	SetURL(ctx context.Context, id uint64, target string)
}

var validate = validator.New()

// isSelfURL reports whether target points back at this service under either scheme.
func isSelfURL(target, base string) bool {
	host := base
	if i := strings.Index(host, "://"); i >= 0 {
		host = host[i+3:]
	}
	host = strings.TrimRight(host, "/")
	if host == "" {
		return false
	}
	return strings.HasPrefix(target, "http://"+host) || strings.HasPrefix(target, "https://"+host)
}

// CheckTarget validates a URL submitted for shortening or fetching.
func (l *Ledger) CheckTarget(target, base string) error {
	if len(target) > l.cfg.MaxURLLength {
		return ErrURLTooLong
	}
	if strings.Contains(target, "\n") || isSelfURL(target, base) {
		return ErrInvalidURL
	}
	if err := validate.Var(target, "required,url"); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	return nil
}

// Shorten returns the record for target, creating it on first use.
func (l *Ledger) Shorten(ctx context.Context, target, base string) (*models.URL, error) {
	if err := l.CheckTarget(target, base); err != nil {
		return nil, err
	}

	u, err := l.findURL(ctx, target)
	if err == nil {
		shortenedTotal.Inc()
		return u, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	u = &models.URL{URL: target}
	if err := l.db.WithContext(ctx).Create(u).Error; err != nil {
		if !isUniqueConstraintError(err) {
			return nil, fmt.Errorf("create url: %w", err)
		}
		if u, err = l.findURL(ctx, target); err != nil {
			return nil, err
		}
	}
	shortenedTotal.Inc()
	return u, nil
}

func (l *Ledger) findURL(ctx context.Context, target string) (*models.URL, error) {
	var u models.URL
	if err := l.db.WithContext(ctx).Where("digest = ?", models.URLDigest(target)).First(&u).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// ResolveURL returns the redirect target for a short link id.
func (l *Ledger) ResolveURL(ctx context.Context, id uint64) (string, error) {
	if id > math.MaxInt64 {
		return "", ErrNotFound
	}
	if l.urlCache != nil {
		if target, ok := l.urlCache.GetURL(ctx, id); ok {
			return target, nil
		}
	}
	var u models.URL
	err := l.db.WithContext(ctx).First(&u, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load url %d: %w", id, err)
	}
	if l.urlCache != nil {
		l.urlCache.SetURL(ctx, id, u.URL)
	}
	return u.URL, nil
}

// ShortURL renders the public link for u under base, newline terminated.
func (l *Ledger) ShortURL(base string, u *models.URL) string {
	return strings.TrimRight(base, "/") + "/" + l.codec.EncodeUint64(u.ID) + "\n"
}
