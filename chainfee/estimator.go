package chainfee

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	prand "math/rand"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// maxBlockTarget is the highest number of blocks confirmations that
	// a WebAPIEstimator will cache fees for. This number is chosen
	// because it's the highest number of confs bitcoind will return a fee
	// estimate for.
	maxBlockTarget uint32 = 1008

	// minBlockTarget is the lowest number of blocks confirmations that
	// a WebAPIEstimator will cache fees for. Requesting an estimate for
	// a conf target less than this will result in an error.
	minBlockTarget uint32 = 1

	// DefaultMinUpdateTimeout represents the minimum interval in which a
	// WebAPIEstimator will request fresh fees from its API.
	DefaultMinUpdateTimeout = 5 * time.Minute

	// DefaultMaxUpdateTimeout represents the maximum interval in which a
	// WebAPIEstimator will request fresh fees from its API.
	DefaultMaxUpdateTimeout = 20 * time.Minute
)

// Estimator provides the ability to estimate on-chain transaction fees for
// various confirmation targets.
type Estimator interface {
	// EstimateFeePerKVByte takes in a target for the number of blocks
	// until an initial confirmation and returns the estimated fee
	// expressed in sat/kvB.
	EstimateFeePerKVByte(numBlocks uint32) (SatPerKVByte, error)

	// Start signals the Estimator to start any processes or goroutines
	// it needs to perform its duty.
	Start() error

	// Stop stops any spawned goroutines and cleans up the resources used
	// by the fee estimator.
	Stop() error
}

// StaticEstimator will return a static value for all fee calculation
// requests. It is designed to be replaced by a proper fee calculation
// implementation. The fees are not accessible directly, because changing
// them would not be thread safe.
type StaticEstimator struct {
	feePerKVByte SatPerKVByte
}

// NewStaticEstimator returns a new static fee estimator instance.
func NewStaticEstimator(feePerKVByte SatPerKVByte) *StaticEstimator {
	return &StaticEstimator{
		feePerKVByte: feePerKVByte,
	}
}

// EstimateFeePerKVByte will return a static value for fee calculations.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) EstimateFeePerKVByte(uint32) (SatPerKVByte, error) {
	return e.feePerKVByte, nil
}

// Start signals the Estimator to start any processes or goroutines it needs
// to perform its duty.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) Start() error {
	return nil
}

// Stop stops any spawned goroutines and cleans up the resources used by the
// fee estimator.
//
// NOTE: This method is part of the Estimator interface.
func (e StaticEstimator) Stop() error {
	return nil
}

// A compile-time assertion to ensure that StaticEstimator implements the
// Estimator interface.
var _ Estimator = (*StaticEstimator)(nil)

// BitcoindEstimator is an implementation of the Estimator interface backed
// by the RPC interface of an active bitcoind node. It queries the node's
// estimatesmartfee and falls back to a static rate if no estimate is
// available.
type BitcoindEstimator struct {
	// fallbackFeePerKVByte is the fallback fee rate in sat/kvB that is
	// returned if the fee estimator does not yet have enough data to
	// actually produce fee estimates.
	fallbackFeePerKVByte SatPerKVByte

	// minFeePerKVByte is the minimum fee, in sat/kvB, that we should
	// enforce. This will be used as the default fee rate for a
	// transaction when the estimated fee rate is too low to allow the
	// transaction to propagate through the network.
	minFeePerKVByte SatPerKVByte

	// feeMode is the estimate_mode to use when calling
	// "estimatesmartfee". It can be either "ECONOMICAL" or
	// "CONSERVATIVE", and it's default to "CONSERVATIVE".
	feeMode string

	client *rpcclient.Client
}

// NewBitcoindEstimator creates a new BitcoindEstimator on top of an RPC
// client. The client is shared with the ledger and is not shut down by
// Stop.
func NewBitcoindEstimator(client *rpcclient.Client, feeMode string,
	fallBackFeeRate SatPerKVByte) *BitcoindEstimator {

	return &BitcoindEstimator{
		fallbackFeePerKVByte: fallBackFeeRate,
		minFeePerKVByte:      FeePerKVByteFloor,
		feeMode:              feeMode,
		client:               client,
	}
}

// Start signals the Estimator to start any processes or goroutines it needs
// to perform its duty.
//
// NOTE: This method is part of the Estimator interface.
func (b *BitcoindEstimator) Start() error {
	// Once the connection to the backend node has been established,
	// we'll query it for its minimum relay fee.
	resp, err := b.client.RawRequest("getnetworkinfo", nil)
	if err != nil {
		return err
	}

	info := struct {
		RelayFee float64 `json:"relayfee"`
	}{}
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}

	relayFee, err := btcutil.NewAmount(info.RelayFee)
	if err != nil {
		return err
	}

	// By default, we'll use the backend node's minimum relay fee as the
	// minimum fee rate we'll propose for transactions. However, if this
	// happens to be lower than our fee floor, we'll enforce that instead.
	b.minFeePerKVByte = SatPerKVByte(relayFee)
	if b.minFeePerKVByte < FeePerKVByteFloor {
		b.minFeePerKVByte = FeePerKVByteFloor
	}

	log.Debugf("Using minimum fee rate of %v", b.minFeePerKVByte)

	return nil
}

// Stop stops any spawned goroutines and cleans up the resources used by the
// fee estimator.
//
// NOTE: This method is part of the Estimator interface.
func (b *BitcoindEstimator) Stop() error {
	return nil
}

// EstimateFeePerKVByte takes in a target for the number of blocks until an
// initial confirmation and returns the estimated fee expressed in sat/kvB.
//
// NOTE: This method is part of the Estimator interface.
func (b *BitcoindEstimator) EstimateFeePerKVByte(
	numBlocks uint32) (SatPerKVByte, error) {

	if numBlocks > maxBlockTarget {
		log.Debugf("conf target %d exceeds the max value, use %d "+
			"instead.", numBlocks, maxBlockTarget,
		)
		numBlocks = maxBlockTarget
	}

	feeEstimate, err := b.fetchEstimate(numBlocks)
	switch {
	// If the estimator doesn't have enough data, or returns an error, then
	// to return a proper value, then we'll return the default fall back
	// fee rate.
	case err != nil:
		log.Errorf("unable to query estimator: %v", err)
		fallthrough

	case feeEstimate == 0:
		return b.fallbackFeePerKVByte, nil
	}

	return feeEstimate, nil
}

// fetchEstimate returns a fee estimate for a transaction to be confirmed in
// confTarget blocks. The estimate is returned in sat/kvB.
func (b *BitcoindEstimator) fetchEstimate(
	confTarget uint32) (SatPerKVByte, error) {

	// First, we'll send an "estimatesmartfee" command as a raw request,
	// since it isn't supported by btcd but is available in bitcoind.
	target, err := json.Marshal(uint64(confTarget))
	if err != nil {
		return 0, err
	}

	// The mode must be either ECONOMICAL or CONSERVATIVE.
	mode, err := json.Marshal(b.feeMode)
	if err != nil {
		return 0, err
	}

	// The estimatesmartfee command returns the fee rate in BTC/kvB.
	resp, err := b.client.RawRequest(
		"estimatesmartfee", []json.RawMessage{target, mode},
	)
	if err != nil {
		return 0, err
	}

	// Once we've obtained the response, we'll instruct the RPC client to
	// parse out the fee rate.
	feeEstimate := struct {
		FeeRate float64  `json:"feerate"`
		Errors  []string `json:"errors"`
	}{}
	if err := json.Unmarshal(resp, &feeEstimate); err != nil {
		return 0, err
	}

	if len(feeEstimate.Errors) > 0 {
		log.Debugf("No fee estimate for conf target of %v: %v",
			confTarget, feeEstimate.Errors)
	}

	satPerKB, err := btcutil.NewAmount(feeEstimate.FeeRate)
	if err != nil {
		return 0, err
	}
	if satPerKB == 0 {
		return 0, nil
	}

	// Finally, we'll enforce our fee floor.
	satPerKVByte := SatPerKVByte(satPerKB)
	if satPerKVByte < b.minFeePerKVByte {
		log.Debugf("Estimated fee rate of %v is too low, using fee "+
			"floor of %v instead", satPerKVByte,
			b.minFeePerKVByte)

		satPerKVByte = b.minFeePerKVByte
	}

	log.Debugf("Returning %v for conf target of %v", satPerKVByte,
		confTarget)

	return satPerKVByte, nil
}

// A compile-time assertion to ensure that BitcoindEstimator implements the
// Estimator interface.
var _ Estimator = (*BitcoindEstimator)(nil)

// WebAPIFeeSource is an interface allows the WebAPIEstimator to query an
// arbitrary HTTP-based fee estimator. Each new set/network will gain an
// implementation of this interface in order to allow the WebAPIEstimator to
// be fully generic in its logic.
type WebAPIFeeSource interface {
	// GenQueryURL generates the full query URL. The value returned by this
	// method should be able to be used directly as a path for an HTTP GET
	// request.
	GenQueryURL() string

	// ParseResponse attempts to parse the body of the response generated
	// by the above query URL. Typically this will be JSON, but the
	// specifics are left to the WebAPIFeeSource implementation.
	ParseResponse(r io.Reader) (map[uint32]uint32, error)
}

// SparseConfFeeSource is an implementation of the WebAPIFeeSource that
// utilizes a user-specified fee estimation API. The API is expected to
// return fees in sat/kvB keyed by confirmation target, and may leave gaps
// between targets.
type SparseConfFeeSource struct {
	// URL is the fee estimation API specified by the user.
	URL string
}

// GenQueryURL generates the full query URL. The value returned by this
// method should be able to be used directly as a path for an HTTP GET
// request.
//
// NOTE: Part of the WebAPIFeeSource interface.
func (s SparseConfFeeSource) GenQueryURL() string {
	return s.URL
}

// ParseResponse attempts to parse the body of the response generated by the
// above query URL. Typically this will be JSON, but the specifics are left to
// the WebAPIFeeSource implementation.
//
// NOTE: Part of the WebAPIFeeSource interface.
func (s SparseConfFeeSource) ParseResponse(
	r io.Reader) (map[uint32]uint32, error) {

	type jsonResp struct {
		FeeByBlockTarget map[uint32]uint32 `json:"fee_by_block_target"`
	}

	resp := jsonResp{
		FeeByBlockTarget: make(map[uint32]uint32),
	}
	jsonReader := json.NewDecoder(r)
	if err := jsonReader.Decode(&resp); err != nil {
		return nil, err
	}

	if len(resp.FeeByBlockTarget) == 0 {
		return nil, errors.New("response has no fee estimates")
	}

	return resp.FeeByBlockTarget, nil
}

// A compile-time assertion to ensure that SparseConfFeeSource implements the
// WebAPIFeeSource interface.
var _ WebAPIFeeSource = (*SparseConfFeeSource)(nil)

// WebAPIConfig holds the dependencies of a WebAPIEstimator.
type WebAPIConfig struct {
	// Source is the API the fees are fetched from.
	Source WebAPIFeeSource

	// DefaultFee is returned while no estimate has been fetched.
	DefaultFee SatPerKVByte

	// MinUpdateTimeout and MaxUpdateTimeout bound the random interval
	// between two fetches.
	MinUpdateTimeout time.Duration
	MaxUpdateTimeout time.Duration

	// Ticker, if set, replaces the ticker built from the update
	// timeouts.
	Ticker ticker.Ticker

	// HTTPClient, if set, replaces the default client.
	HTTPClient *http.Client
}

// WebAPIEstimator is an implementation of the Estimator interface that
// queries an HTTP-based fee estimation from an existing web API.
type WebAPIEstimator struct {
	started sync.Once
	stopped sync.Once

	cfg WebAPIConfig

	// updateFeeTicker is the ticker responsible for updating the
	// Estimator's fee estimates every time it fires.
	updateFeeTicker ticker.Ticker

	client *http.Client

	// feeByBlockTarget is our cache for fees pulled from the API. When a
	// fee estimate request comes in, we pull the estimate from this
	// array rather than re-querying the API, to prevent an inadvertent
	// DoS attack.
	feesMtx          sync.Mutex
	feeByBlockTarget map[uint32]uint32

	quit chan struct{}
	wg   sync.WaitGroup
}

// NewWebAPIEstimator creates a new WebAPIEstimator from a fee source and a
// fallback default fee. The fees are refreshed at a random interval between
// the configured update timeouts.
func NewWebAPIEstimator(cfg WebAPIConfig) (*WebAPIEstimator, error) {
	if cfg.Source == nil {
		return nil, errors.New("fee source must be set")
	}
	if cfg.MinUpdateTimeout <= 0 {
		cfg.MinUpdateTimeout = DefaultMinUpdateTimeout
	}
	if cfg.MaxUpdateTimeout <= 0 {
		cfg.MaxUpdateTimeout = DefaultMaxUpdateTimeout
	}
	if cfg.MaxUpdateTimeout < cfg.MinUpdateTimeout {
		return nil, fmt.Errorf("max update timeout %v below min "+
			"update timeout %v", cfg.MaxUpdateTimeout,
			cfg.MinUpdateTimeout)
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Timeout: time.Second * 10,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 5 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 5 * time.Second,
			},
		}
	}

	return &WebAPIEstimator{
		cfg:              cfg,
		client:           client,
		feeByBlockTarget: make(map[uint32]uint32),
		quit:             make(chan struct{}),
	}, nil
}

// EstimateFeePerKVByte takes in a target for the number of blocks until an
// initial confirmation and returns the estimated fee expressed in sat/kvB.
//
// NOTE: This method is part of the Estimator interface.
func (w *WebAPIEstimator) EstimateFeePerKVByte(
	numBlocks uint32) (SatPerKVByte, error) {

	if numBlocks > maxBlockTarget {
		numBlocks = maxBlockTarget
	} else if numBlocks < minBlockTarget {
		return 0, fmt.Errorf("conf target of %v is too low, minimum "+
			"accepted is %v", numBlocks, minBlockTarget)
	}

	feePerKb, err := w.getCachedFee(numBlocks)

	// If the estimator returns an error, a zero value fee rate will be
	// returned. We will log the error and return the fall back fee rate
	// instead.
	if err != nil {
		log.Errorf("Unable to query estimator: %v", err)

		return w.cfg.DefaultFee, nil
	}

	satPerKVByte := SatPerKVByte(feePerKb)
	if satPerKVByte < FeePerKVByteFloor {
		satPerKVByte = FeePerKVByteFloor
	}

	log.Debugf("Web API returning %v for conf target of %v",
		satPerKVByte, numBlocks)

	return satPerKVByte, nil
}

// Start signals the Estimator to start any processes or goroutines it needs
// to perform its duty.
//
// NOTE: This method is part of the Estimator interface.
func (w *WebAPIEstimator) Start() error {
	w.started.Do(func() {
		log.Infof("Starting web API fee estimator")

		w.updateFeeTicker = w.cfg.Ticker
		if w.updateFeeTicker == nil {
			w.updateFeeTicker = ticker.New(
				w.randomFeeUpdateTimeout(),
			)
		}

		// Fetch the first set of fees before handing out estimates.
		w.updateFeeEstimates()

		w.updateFeeTicker.Resume()

		w.wg.Add(1)
		go w.feeUpdateManager()
	})

	return nil
}

// Stop stops any spawned goroutines and cleans up the resources used by the
// fee estimator.
//
// NOTE: This method is part of the Estimator interface.
func (w *WebAPIEstimator) Stop() error {
	w.stopped.Do(func() {
		log.Infof("Stopping web API fee estimator")

		close(w.quit)
		w.wg.Wait()

		if w.updateFeeTicker != nil {
			w.updateFeeTicker.Stop()
		}
	})

	return nil
}

// randomFeeUpdateTimeout returns a random timeout between the configured
// minimum and maximum update timeouts.
func (w *WebAPIEstimator) randomFeeUpdateTimeout() time.Duration {
	lower := int64(w.cfg.MinUpdateTimeout)
	upper := int64(w.cfg.MaxUpdateTimeout)
	if upper == lower {
		return w.cfg.MinUpdateTimeout
	}

	return time.Duration(prand.Int63n(upper-lower) + lower) //nolint:gosec
}

// getCachedFee takes a conf target and returns the cached fee rate. When the
// fee rate cannot be found, it will search the cache by decrementing the
// conf target until a fee rate is found. If still not found, it will return
// an error.
func (w *WebAPIEstimator) getCachedFee(numBlocks uint32) (uint32, error) {
	w.feesMtx.Lock()
	defer w.feesMtx.Unlock()

	// If the cache is empty, return an error.
	if len(w.feeByBlockTarget) == 0 {
		return 0, fmt.Errorf("web API error: %w", errEmptyCache)
	}

	// Search the conf target from the cache. We expect a query to the web
	// API has been made and the result has been cached at this point.
	fee, ok := w.feeByBlockTarget[numBlocks]

	// If the conf target can be found, exit early.
	if ok {
		return fee, nil
	}

	// The conf target cannot be found. We will first search the cache
	// using a lower conf target. This is a conservative approach as the
	// fee rate returned will be larger than what's requested.
	for target := numBlocks; target >= minBlockTarget; target-- {
		fee, ok := w.feeByBlockTarget[target]
		if !ok {
			continue
		}

		log.Warnf("Web API does not have a fee rate for target=%d, "+
			"using the fee rate for target=%d instead",
			numBlocks, target)

		return fee, nil
	}

	return 0, fmt.Errorf("web API does not include a fee estimation for "+
		"block target of %v", numBlocks)
}

// errEmptyCache is returned when no fee estimate has been fetched yet.
var errEmptyCache = errors.New("empty cache")

// updateFeeEstimates re-queries the API for fresh fees and caches them.
func (w *WebAPIEstimator) updateFeeEstimates() {
	// With the client created, we'll query the API source to fetch the
	// URL that we should use to query for the fee estimation.
	targetURL := w.cfg.Source.GenQueryURL()
	resp, err := w.client.Get(targetURL)
	if err != nil {
		log.Errorf("unable to query web api for fee response: %v",
			err)
		return
	}
	defer resp.Body.Close()

	// Once we've obtained the response, we'll instruct the WebAPIFeeSource
	// to parse out the body to obtain our final result.
	feesByBlockTarget, err := w.cfg.Source.ParseResponse(resp.Body)
	if err != nil {
		log.Errorf("unable to parse fee api response: %v", err)
		return
	}

	w.feesMtx.Lock()
	w.feeByBlockTarget = feesByBlockTarget
	w.feesMtx.Unlock()
}

// feeUpdateManager updates the fee estimates whenever the ticker fires.
func (w *WebAPIEstimator) feeUpdateManager() {
	defer w.wg.Done()

	for {
		select {
		case <-w.updateFeeTicker.Ticks():
			w.updateFeeEstimates()

		case <-w.quit:
			return
		}
	}
}

// A compile-time assertion to ensure that WebAPIEstimator implements the
// Estimator interface.
var _ Estimator = (*WebAPIEstimator)(nil)
