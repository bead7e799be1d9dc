package libstream

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

type (
	// OpenConnectionParams is what a sink needs to dial its peer.
	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// OpenConnectionParamsGetter resolves dial parameters right before each
	// dial attempt, so tokens or endpoints may change between attempts.
	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	OpenConnectionParamsRepo struct {
		logger Logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger Logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	if logger == nil {
		logger = nopLogger()
	}
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// StaticOpenConnectionParams always dials rawURL with the given header.
func StaticOpenConnectionParams(rawURL string, header http.Header) (OpenConnectionParamsGetter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid url %q", rawURL)
	}

	params := OpenConnectionParams{URL: *u, Header: header}
	return func(context.Context) (OpenConnectionParams, error) {
		return params, nil
	}, nil
}
