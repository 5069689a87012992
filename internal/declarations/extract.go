package declarations

import (
	"context"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/femasync/internal/fetcher"
	"github.com/sells-group/femasync/internal/observability"
)

// listPage is one page of the paginated list endpoint. The dataset lives
// under a fixed key in the response body.
type listPage struct {
	Summaries []Record `json:"DisasterDeclarationsSummaries"`
}

// Extractor accumulates every declaration obtainable from the list endpoint
// by paging with $top/$skip until the source returns an empty page.
type Extractor struct {
	fetcher  fetcher.Fetcher
	url      string
	pageSize int
	skip     int
	metrics  *observability.Metrics
}

// NewExtractor creates an Extractor starting at the given offset.
func NewExtractor(f fetcher.Fetcher, endpoint string, pageSize, skip int, m *observability.Metrics) *Extractor {
	return &Extractor{
		fetcher:  f,
		url:      endpoint,
		pageSize: pageSize,
		skip:     skip,
		metrics:  m,
	}
}

// FetchAll pages through the endpoint and returns every accumulated record.
// On a transport, status, or decode failure it stops and returns the records
// gathered from the pages that completed, alongside the truncating error.
// Records from the failed page onward are never partially included.
func (e *Extractor) FetchAll(ctx context.Context) ([]Record, error) {
	log := zap.L().With(zap.String("component", "declarations.extract"))
	log.Info("starting data ingestion",
		zap.String("url", e.url),
		zap.Int("page_size", e.pageSize),
		zap.Int("skip", e.skip),
	)

	var all []Record
	skip := e.skip

	for {
		select {
		case <-ctx.Done():
			return all, ctx.Err()
		default:
		}

		pageURL, err := e.pageURL(skip)
		if err != nil {
			e.metrics.FetchErrors.Inc()
			log.Error("bad endpoint url, keeping partial batch", zap.Error(err))
			return all, err
		}

		body, err := e.fetcher.Download(ctx, pageURL)
		if err != nil {
			e.metrics.FetchErrors.Inc()
			log.Error("page fetch failed, keeping partial batch",
				zap.Int("skip", skip),
				zap.Int("records_so_far", len(all)),
				zap.Error(err),
			)
			return all, err
		}

		page, err := fetcher.DecodeJSONObject[listPage](body)
		_ = body.Close()
		if err != nil {
			e.metrics.FetchErrors.Inc()
			log.Error("page decode failed, keeping partial batch",
				zap.Int("skip", skip),
				zap.Int("records_so_far", len(all)),
				zap.Error(err),
			)
			return all, err
		}

		e.metrics.PagesFetched.Inc()

		if len(page.Summaries) == 0 {
			break
		}

		all = append(all, page.Summaries...)
		e.metrics.RecordsFetched.Add(float64(len(page.Summaries)))
		log.Info("fetched page",
			zap.Int("records", len(page.Summaries)),
			zap.Int("skip", skip),
		)

		skip += e.pageSize
	}

	log.Info("ingestion complete", zap.Int("total_records", len(all)))
	return all, nil
}

// pageURL builds the page request URL, preserving any query parameters
// already present on the configured endpoint (e.g. $filter).
func (e *Extractor) pageURL(skip int) (string, error) {
	u, err := url.Parse(e.url)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("$top", strconv.Itoa(e.pageSize))
	q.Set("$skip", strconv.Itoa(skip))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
