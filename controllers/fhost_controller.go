package controllers

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/fhost/config"
	"github.com/cppla/fhost/models"
	"github.com/cppla/fhost/services"
	"github.com/cppla/fhost/storage"
	"github.com/cppla/fhost/utils"
)

const robotsTxt = "User-agent: *\nDisallow: /\n"

// FhostController serves uploads, short links and stored files.
type FhostController struct {
	cfg     config.AppConfig
	db      *gorm.DB
	ledger  *services.Ledger
	fetcher *services.Fetcher
	store   *storage.ContentStore
	log     *zap.Logger
}

func NewFhostController(cfg config.AppConfig, db *gorm.DB, ledger *services.Ledger, fetcher *services.Fetcher, store *storage.ContentStore, log *zap.Logger) *FhostController {
	return &FhostController{cfg: cfg, db: db, ledger: ledger, fetcher: fetcher, store: store, log: log}
}

// baseURL is the configured public URL, or scheme://host of the request.
func (fc *FhostController) baseURL(c *gin.Context) string {
	if fc.cfg.BaseURL != "" {
		return strings.TrimRight(fc.cfg.BaseURL, "/")
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + c.Request.Host
}

// Index prints usage for GET /.
func (fc *FhostController) Index(c *gin.Context) {
	utils.Text(c, http.StatusOK, usage(fc.baseURL(c), fc.cfg))
}

func (fc *FhostController) Robots(c *gin.Context) {
	utils.Text(c, http.StatusOK, robotsTxt)
}

// Health reports liveness plus a database ping.
func (fc *FhostController) Health(c *gin.Context) {
	sqlDB, err := fc.db.DB()
	if err == nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		err = sqlDB.PingContext(ctx)
	}
	if err != nil {
		fc.log.Warn("health check failed", zap.Error(err))
		utils.Respond(c, http.StatusServiceUnavailable, 50300, "database unavailable", gin.H{"status": "degraded"})
		return
	}
	utils.Success(c, gin.H{"status": "ok"})
}

// Upload handles POST /: a file part, a url to fetch, or a url to shorten.
func (fc *FhostController) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	base := fc.baseURL(c)

	if fh, err := c.FormFile("file"); err == nil {
		var requested *int64
		if v, ok := c.GetPostForm("expires"); ok {
			n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err != nil {
				fc.fail(c, services.ErrInvalidExpiration)
				return
			}
			requested = &n
		}
		src, err := fh.Open()
		if err != nil {
			fc.fail(c, err)
			return
		}
		defer src.Close()
		tf, err := services.NewTransferFile(src, fh.Filename, fh.Header.Get("Content-Type"), fc.cfg.MaxExtLength)
		if err != nil {
			fc.fail(c, err)
			return
		}
		fc.storeFile(c, tf, requested, base)
		return
	}

	if target, ok := c.GetPostForm("url"); ok {
		if err := fc.ledger.CheckTarget(target, base); err != nil {
			fc.fail(c, err)
			return
		}
		tf, cleanup, err := fc.fetcher.Fetch(ctx, target)
		if err != nil {
			fc.fail(c, err)
			return
		}
		defer cleanup()
		fc.storeFile(c, tf, nil, base)
		return
	}

	if target, ok := c.GetPostForm("shorten"); ok {
		u, err := fc.ledger.Shorten(ctx, target, base)
		if err != nil {
			fc.fail(c, err)
			return
		}
		utils.Text(c, http.StatusOK, fc.ledger.ShortURL(base, u))
		return
	}

	fc.fail(c, services.ErrInvalidRequest)
}

func (fc *FhostController) storeFile(c *gin.Context, tf *services.TransferFile, requested *int64, base string) {
	_, wantSecret := c.GetPostForm("secret")
	f, isNew, err := fc.ledger.Store(c.Request.Context(), tf, requested, utils.ClientAddr(c), c.Request.UserAgent(), wantSecret)
	if err != nil {
		fc.fail(c, err)
		return
	}
	setExpires(c, f)
	if isNew && f.MgmtToken != nil {
		c.Header("X-Token", *f.MgmtToken)
	}
	utils.Text(c, http.StatusOK, fc.ledger.FileURL(base, f))
}

func setExpires(c *gin.Context, f *models.File) {
	if f.Expiration != nil {
		c.Header("X-Expires", strconv.FormatInt(*f.Expiration, 10))
	}
}

// Get serves every path not claimed by a fixed route: stored files (with an
// extension), the management endpoint (POST to a file), and short links
// (no extension).
func (fc *FhostController) Get(c *gin.Context) {
	method := c.Request.Method
	if method != http.MethodGet && method != http.MethodHead && method != http.MethodPost {
		fc.fail(c, errMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(c.Request.URL.Path, "/")
	var secret *string
	if rest, ok := strings.CutPrefix(path, "s/"); ok {
		if s, p, ok := strings.Cut(rest, "/"); ok && s != "" && p != "" {
			secret, path = &s, p
		}
	}

	p, err := fc.ledger.ParsePath(path)
	if err != nil {
		fc.fail(c, err)
		return
	}

	if p.Ext == "" {
		if method == http.MethodPost {
			fc.fail(c, errMethodNotAllowed)
			return
		}
		if p.HasRest {
			fc.fail(c, services.ErrNotFound)
			return
		}
		target, err := fc.ledger.ResolveURL(c.Request.Context(), p.ID)
		if err != nil {
			fc.fail(c, err)
			return
		}
		c.Redirect(http.StatusFound, target)
		return
	}

	f, err := fc.ledger.ResolveFile(c.Request.Context(), p, secret)
	if err != nil {
		fc.fail(c, err)
		return
	}
	if method == http.MethodPost {
		fc.manage(c, f)
		return
	}
	fc.serve(c, f)
}

func (fc *FhostController) manage(c *gin.Context, f *models.File) {
	token, ok := c.GetPostForm("token")
	if !ok {
		fc.fail(c, services.ErrInvalidRequest)
		return
	}
	var action services.ManageAction
	_, action.Delete = c.GetPostForm("delete")
	if v, ok := c.GetPostForm("expires"); ok && !action.Delete {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			// a bad token still wins over a bad value
			if f.MgmtToken == nil || !utils.TokenEqual(token, *f.MgmtToken) {
				fc.fail(c, services.ErrUnauthorized)
				return
			}
			fc.fail(c, services.ErrInvalidExpiration)
			return
		}
		action.Expires = &n
	}

	out, err := fc.ledger.Manage(c.Request.Context(), f, token, action)
	if err != nil {
		fc.fail(c, err)
		return
	}
	switch out {
	case services.ManageDeleted:
		utils.Text(c, http.StatusOK, "")
	case services.ManageExpirationSet:
		utils.Text(c, http.StatusAccepted, "")
	}
}

func (fc *FhostController) serve(c *gin.Context, f *models.File) {
	setExpires(c, f)
	path := fc.store.PathFor(f.SHA256)

	if fc.cfg.UseXSendfile {
		c.Header("Content-Type", f.MIME)
		c.Header("Content-Length", strconv.FormatInt(f.Size, 10))
		c.Header("X-Accel-Redirect", "/"+strings.TrimPrefix(path, "/"))
		c.Status(http.StatusOK)
		return
	}

	fh, err := fc.store.Open(f.SHA256)
	if err != nil {
		fc.fail(c, services.ErrNotFound)
		return
	}
	defer fh.Close()
	modTime := f.UpdatedAt
	if st, err := fh.Stat(); err == nil {
		modTime = st.ModTime()
	}
	c.Header("Content-Type", f.MIME)
	http.ServeContent(c.Writer, c.Request, "", modTime, fh)
}

func usage(base string, cfg config.AppConfig) string {
	maxMiB := cfg.MaxContentLength / (1024 * 1024)
	minDays := cfg.MinExpiration / (24 * 3600 * 1000)
	maxDays := cfg.MaxExpiration / (24 * 3600 * 1000)
	var b strings.Builder
	b.WriteString("fhost: anonymous file hosting and URL shortening\n\n")
	b.WriteString("HTTP POST files here:\n")
	b.WriteString("    curl -F'file=@yourfile.png' " + base + "\n")
	b.WriteString("You can also POST remote URLs:\n")
	b.WriteString("    curl -F'url=http://example.com/image.jpg' " + base + "\n")
	b.WriteString("If you don't want the resulting URL to be easy to guess:\n")
	b.WriteString("    curl -F'file=@yourfile.png' -Fsecret= " + base + "\n")
	b.WriteString("Or you can shorten URLs:\n")
	b.WriteString("    curl -F'shorten=http://example.com/some/long/url' " + base + "\n\n")
	b.WriteString("It is possible to append your own file name to the URL:\n")
	b.WriteString("    " + base + "/aaa.jpg/image.jpeg\n\n")
	b.WriteString("File URLs are valid for at least " + strconv.FormatInt(minDays, 10) +
		" days and up to " + strconv.FormatInt(maxDays, 10) + " days (see below).\n")
	b.WriteString("Shortened URLs do not expire.\n\n")
	b.WriteString("Files can be set to expire sooner by adding an \"expires\" parameter (in hours)\n")
	b.WriteString("    curl -F'file=@yourfile.png' -Fexpires=24 " + base + "\n")
	b.WriteString("OR by setting \"expires\" to a timestamp in epoch milliseconds\n")
	b.WriteString("    curl -F'file=@yourfile.png' -Fexpires=1681996320000 " + base + "\n\n")
	b.WriteString("Expired files won't be removed immediately, but will be removed as part of\n")
	b.WriteString("the next purge.\n\n")
	b.WriteString("Whenever a file that does not already exist or has expired is uploaded,\n")
	b.WriteString("the HTTP response header includes an X-Token field. You can use this\n")
	b.WriteString("to perform management operations on the file.\n\n")
	b.WriteString("To delete the file immediately:\n")
	b.WriteString("    curl -Ftoken=token_here -Fdelete= " + base + "/abc.txt\n")
	b.WriteString("To change the expiration date (see above):\n")
	b.WriteString("    curl -Ftoken=token_here -Fexpires=3 " + base + "/abc.txt\n\n")
	b.WriteString("Maximum file size: " + strconv.FormatInt(maxMiB, 10) + " MiB\n")
	b.WriteString("Not allowed: child sexual abuse material, malware, spam, anything illegal\n")
	return b.String()
}
