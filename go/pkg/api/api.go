// Package api serves the flat OHLC directory over HTTP.
package api

import (
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"ohlcv-pipeline/go/pkg/catalog"
	"ohlcv-pipeline/go/pkg/ohlcv"
	"ohlcv-pipeline/go/pkg/shared"
	"ohlcv-pipeline/go/pkg/source"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
)

// Candle is one bar as returned by GET /ohlc.
type Candle struct {
	Time         string  `json:"time"`
	Open         float64 `json:"open"`
	High         float64 `json:"high"`
	Low          float64 `json:"low"`
	Close        float64 `json:"close"`
	OpenInterest float64 `json:"open_interest"`
	Volume       float64 `json:"volume"`
}

const candleTime = "2006-01-02T15:04:05Z"

type errorBody struct {
	Detail string `json:"detail"`
}

// Server holds the current catalog index. Handlers only read it; Reload
// builds a new index and swaps the pointer.
type Server struct {
	index    atomic.Pointer[catalog.Index]
	reader   *source.CSVReader
	origins  []string
	log      shared.Logger
	requests *prometheus.CounterVec
}

func NewServer(idx *catalog.Index, origins []string, log shared.Logger, reg prometheus.Registerer) *Server {
	if log == nil {
		log = shared.NopLogger()
	}
	s := &Server{
		reader:  source.NewCSVReader(),
		origins: origins,
		log:     log,
		requests: shared.NewCounterVec(reg, prometheus.CounterOpts{
			Name: "ohlc_api_requests_total",
			Help: "API requests by route and status",
		}, []string{"route", "status"}),
	}
	s.index.Store(idx)
	return s
}

func (s *Server) Index() *catalog.Index { return s.index.Load() }

// Reload rescans the data directory. The old index keeps serving if the
// scan fails.
func (s *Server) Reload() error {
	idx, err := catalog.Build(s.index.Load().Dir())
	if err != nil {
		return err
	}
	s.index.Store(idx)
	s.log.Printf("[api] index reloaded timeframes=%d scrips=%d", len(idx.Timeframes()), len(idx.Scrips()))
	return nil
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.count)
	r.Use(cors(s.origins))
	r.Use(render.SetContentType(render.ContentTypeJSON))

	r.Get("/scrips", s.listScrips)
	r.Get("/ohlc/{timeframe}/{scrip}", s.getOHLC)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		fail(w, r, http.StatusNotFound, "Not Found")
	})
	return r
}

func (s *Server) listScrips(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.index.Load().Scrips())
}

func (s *Server) getOHLC(w http.ResponseWriter, r *http.Request) {
	tf := chi.URLParam(r, "timeframe")
	scrip := chi.URLParam(r, "scrip")
	idx := s.index.Load()

	if shared.ValidateVar(tf, "required,max=32,excludesall=/\\.") != nil || !idx.HasTimeframe(tf) {
		fail(w, r, http.StatusNotFound, "Timeframe '"+tf+"' not found")
		return
	}
	if shared.ValidateVar(scrip, "required,max=128,excludesall=/\\") != nil || strings.Contains(scrip, "..") || !idx.HasScrip(scrip) {
		fail(w, r, http.StatusNotFound, "Scrip '"+scrip+"' not found")
		return
	}

	if !idx.Has(scrip, tf) {
		fail(w, r, http.StatusNotFound, "Data file not found")
		return
	}
	rows, err := s.reader.ReadFile(idx.Path(scrip, tf))
	if errors.Is(err, fs.ErrNotExist) {
		fail(w, r, http.StatusNotFound, "Data file not found")
		return
	}
	if err != nil {
		s.log.Warnf("[api] read %s/%s: %v", tf, scrip, err)
		fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	bars, err := ohlcv.ParseRows(zeroFill(rows))
	if err != nil {
		s.log.Warnf("[api] parse %s/%s: %v", tf, scrip, err)
		fail(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]Candle, len(bars))
	for i, b := range bars {
		out[i] = Candle{
			Time:         b.Time.Format(candleTime),
			Open:         b.Open,
			High:         b.High,
			Low:          b.Low,
			Close:        b.Close,
			OpenInterest: b.OpenInterest,
			Volume:       b.Volume,
		}
	}
	render.JSON(w, r, out)
}

var numericColumns = []string{
	ohlcv.ColOpen, ohlcv.ColHigh, ohlcv.ColLow, ohlcv.ColClose, ohlcv.ColVolume, ohlcv.ColOpenInterest,
}

// zeroFill serves empty or NaN numeric cells as 0. The datetime column stays
// strict.
func zeroFill(rows []ohlcv.RawRow) []ohlcv.RawRow {
	for _, row := range rows {
		for _, col := range numericColumns {
			v := strings.TrimSpace(row.Values[col])
			if v == "" || strings.EqualFold(v, "nan") {
				row.Values[col] = "0"
			}
		}
	}
	return rows
}

func fail(w http.ResponseWriter, r *http.Request, status int, detail string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Detail: detail})
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

// cors allows any origin when origins is empty or contains "*".
func cors(origins []string) func(http.Handler) http.Handler {
	allowAll := len(origins) == 0
	allowed := map[string]bool{}
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
		allowed[strings.ToLower(o)] = true
	}
	maxAge := strconv.Itoa(int((5 * time.Minute).Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && allowed[strings.ToLower(origin)]:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")
			w.Header().Set("Access-Control-Max-Age", maxAge)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
