// Command edge is the playback-facing process: it renders LL-HLS rendition
// and master playlists via the Edge Playlist Generator and serves the
// signed media objects those playlists reference, for both the live window
// (fed by the Rendition Manifest Publisher over the bus) and the DVR range
// (read straight out of the relational recording store).
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	_ "github.com/lib/pq"
	"github.com/oklog/ulid/v2"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/catalyst-api/batcher"
	"github.com/livepeer/catalyst-api/bus"
	"github.com/livepeer/catalyst-api/cache"
	"github.com/livepeer/catalyst-api/config"
	"github.com/livepeer/catalyst-api/edge"
	"github.com/livepeer/catalyst-api/errors"
	"github.com/livepeer/catalyst-api/log"
	"github.com/livepeer/catalyst-api/manifest"
	"github.com/livepeer/catalyst-api/metrics"
	"github.com/livepeer/catalyst-api/middleware"
	"github.com/livepeer/catalyst-api/objectstore"
	"github.com/livepeer/catalyst-api/pprof"
	"github.com/livepeer/catalyst-api/recording"
	"github.com/livepeer/catalyst-api/token"
)

func main() {
	cli := config.DefaultCli()
	fs := flag.NewFlagSet("edge", flag.ExitOnError)

	fs.StringVar(&cli.EdgeHTTPAddr, "http-addr", cli.EdgeHTTPAddr, "Address for the playback HTTP API")
	fs.StringVar(&cli.ObjectStoreURL, "object-store-url", cli.ObjectStoreURL, "Base URL under which per-connection/rendition live media was written")
	fs.StringVar(&cli.RecordingBaseURL, "recording-base-url", cli.RecordingBaseURL, "Base URL under which archived DVR media was written")
	fs.StringVar(&cli.NATSURL, "nats-url", cli.NATSURL, "NATS server URL backing the manifest/event bus")
	fs.StringVar(&cli.PostgresDSN, "postgres-dsn", cli.PostgresDSN, "Postgres connection string for the recording store; empty disables DVR")
	fs.StringVar(&cli.JWTSecret, "jwt-secret", cli.JWTSecret, "HS256 secret for Session/Media/Screenshot tokens")
	fs.IntVar(&cli.MaxEdgeInFlight, "max-inflight-requests", cli.MaxEdgeInFlight, "Maximum number of concurrent playback requests to accept")
	fs.IntVar(&cli.PprofPort, "pprof-port", cli.PprofPort, "Pprof listen port")
	fs.IntVar(&cli.PromPort, "prom-port", cli.PromPort, "Prometheus metrics listen port")
	fs.Float64Var(&cli.PartSecs, "target-part-duration", cli.PartSecs, "Target LL-HLS Part duration, in seconds")
	fs.Float64Var(&cli.BreakpointSecs, "target-segment-duration", cli.BreakpointSecs, "Target LL-HLS Segment duration, in seconds")
	fs.IntVar(&cli.HoldBackParts, "hold-back-parts", cli.HoldBackParts, "Number of parts a blocking reload waits for before returning current state")
	_ = fs.String("config", "", "config file (optional)")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("CATALYST_EDGE"),
	); err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}

	var recStore *recording.Store
	if cli.PostgresDSN != "" {
		db, err := sql.Open("postgres", cli.PostgresDSN)
		if err != nil {
			glog.Fatalf("error opening postgres connection: %s", err)
		}
		recStore = recording.New(db)
	}

	b, err := bus.Connect(cli.NATSURL, "catalyst-manifests", config.DefaultManifestDedupeWindow)
	if err != nil {
		glog.Fatalf("error connecting to bus: %s", err)
	}
	defer b.Close()

	signer := token.NewSigner([]byte(cli.JWTSecret), config.DefaultMediaTokenTTL)
	gating := middleware.NewGatingHandler(signer)
	capacity := &middleware.CapacityMiddleware{}
	reg := newLiveRegistry(b)

	srv := &server{
		cli:      cli,
		signer:   signer,
		recStore: newBatchedStore(storeOrDisabled(recStore)),
		reg:      reg,
	}

	group, ctx := errgroup.WithContext(context.Background())

	go func() {
		glog.Info(pprof.ListenAndServe(cli.PprofPort))
	}()
	go func() {
		glog.Info(metrics.ListenAndServe(cli.PromPort))
	}()

	group.Go(func() error { return handleSignals(ctx) })
	group.Go(func() error { return serveEdge(cli, srv, gating, capacity) })

	glog.Infof("catalyst-edge version %s listening on %s", config.Version, cli.EdgeHTTPAddr)
	if err := group.Wait(); err != nil {
		glog.Infof("shutdown: %s", err)
	}
}

// storeOrDisabled substitutes disabledStore when no Postgres DSN was
// configured, so edge.Build's DVR-enrichment path fails with a clear error
// instead of a nil-interface panic when a viewer requests scuffle_dvr.
func storeOrDisabled(s *recording.Store) edge.Store {
	if s == nil {
		return disabledStore{}
	}
	return s
}

type disabledStore struct{}

func (disabledStore) GetRecordingHeader(ctx context.Context, id ulid.ULID) (*recording.RecordingHeader, error) {
	return nil, fmt.Errorf("recording store unavailable: no postgres-dsn configured")
}

func (disabledStore) ListRenditionSegments(ctx context.Context, id ulid.ULID, rendition string) ([]recording.RenditionSegmentRow, error) {
	return nil, fmt.Errorf("recording store unavailable: no postgres-dsn configured")
}

func (disabledStore) ListThumbnails(ctx context.Context, id ulid.ULID) ([]recording.ThumbnailRow, error) {
	return nil, fmt.Errorf("recording store unavailable: no postgres-dsn configured")
}

// batchedStore coalesces concurrent GetRecordingHeader lookups for the same
// recording id behind one downstream read, per spec.md 4.7's "used by the
// edge DB layer" dataloader - a live room's segments all resolve the same
// recording id, so a burst of simultaneous viewers joining a DVR-eligible
// room collapses to one header read instead of one per viewer.
type batchedStore struct {
	edge.Store
	headers *batcher.Dataloader[ulid.ULID, *recording.RecordingHeader]
}

func newBatchedStore(inner edge.Store) *batchedStore {
	bs := &batchedStore{Store: inner}
	bs.headers = batcher.NewDataloader(batcher.Config{
		MaxBatchSize:  64,
		SleepDuration: 5 * time.Millisecond,
		MaxConcurrent: 4,
	}, func(ctx context.Context, keys []ulid.ULID) ([]batcher.Result[*recording.RecordingHeader], error) {
		out := make([]batcher.Result[*recording.RecordingHeader], len(keys))
		for i, k := range keys {
			h, err := inner.GetRecordingHeader(ctx, k)
			out[i] = batcher.Result[*recording.RecordingHeader]{Value: h, Err: err}
		}
		return out, nil
	})
	return bs
}

func (bs *batchedStore) GetRecordingHeader(ctx context.Context, id ulid.ULID) (*recording.RecordingHeader, error) {
	return bs.headers.Load(ctx, id)
}

type server struct {
	cli      config.Cli
	signer   *token.Signer
	recStore edge.Store
	reg      *liveRegistry
}

func serveEdge(cli config.Cli, srv *server, gating *middleware.GatingHandler, capacity *middleware.CapacityMiddleware) error {
	router := httprouter.New()

	wrap := func(h httprouter.Handle) httprouter.Handle {
		return middleware.LogRequest()(gating.GatingCheck(capacity.HasCapacity(cli.MaxEdgeInFlight, h)))
	}

	// Routes nest a static "renditions" (and, below that, "media") segment
	// ahead of every :rendition/*objpath so the tree never has to choose
	// between a named param or catch-all and a sibling literal at the same
	// position - httprouter rejects that shape at registration time.
	router.GET("/live/:room/master.m3u8", wrap(srv.liveMaster))
	router.GET("/live/:room/renditions/:rendition/index.m3u8", wrap(srv.livePlaylist))
	router.GET("/live/:room/renditions/:rendition/media/*objpath", wrap(srv.liveMedia))

	router.GET("/vod/:recordingid/master.m3u8", wrap(srv.recordingMaster))
	router.GET("/vod/:recordingid/renditions/:rendition/index.m3u8", wrap(srv.recordingPlaylist))
	router.GET("/vod/:recordingid/renditions/:rendition/media/*objpath", wrap(srv.recordingMedia))

	return http.ListenAndServe(cli.EdgeHTTPAddr, router)
}

func (s *server) holdBack() time.Duration {
	return time.Duration(float64(s.cli.HoldBackParts) * s.cli.PartSecs * float64(time.Second))
}

func (s *server) renderConfig() edge.RenderConfig {
	return edge.RenderConfig{
		TargetPartDuration:    time.Duration(s.cli.PartSecs * float64(time.Second)),
		TargetSegmentDuration: time.Duration(s.cli.BreakpointSecs * float64(time.Second)),
		HoldBackSeconds:       s.holdBack().Seconds(),
	}
}

func parseQuery(r *http.Request, rendition string) edge.Query {
	q := edge.Query{Rendition: rendition}
	v := r.URL.Query()
	if msn := v.Get("_HLS_msn"); msn != "" {
		if n, err := strconv.ParseUint(msn, 10, 32); err == nil {
			x := uint32(n)
			q.MSN = &x
		}
	}
	if part := v.Get("_HLS_part"); part != "" {
		if n, err := strconv.ParseUint(part, 10, 32); err == nil {
			x := uint32(n)
			q.Part = &x
		}
	}
	q.Skip = v.Get("_HLS_skip") == "YES"
	q.DVR = v.Get("scuffle_dvr") != ""
	return q
}

// livePlaylist implements spec.md 4.5's blocking-reload request for one
// room's rendition: wait on the room's LiveState for a snapshot satisfying
// _HLS_msn (if present), then render it.
func (s *server) livePlaylist(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	room := ps.ByName("room")
	rendition := ps.ByName("rendition")
	q := parseQuery(r, rendition)

	live := s.reg.stateFor(room, rendition).Snapshot(q.MSN, s.holdBack())
	sess := middleware.SessionFromContext(r.Context())
	sess.Room = room

	pl, err := edge.Build(r.Context(), sess, q, live, s.recStore, s.signer, s.cli.ObjectStoreURL)
	if err != nil {
		errors.WriteHTTPBadRequest(w, "error building playlist", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(edge.Render(pl, s.renderConfig())))
}

// recordingPlaylist serves a finished recording's rendition playlist: pure
// DVR, no live snapshot, no blocking reload.
func (s *server) recordingPlaylist(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	recordingID := ps.ByName("recordingid")
	rendition := ps.ByName("rendition")
	q := parseQuery(r, rendition)

	sess := middleware.SessionFromContext(r.Context())
	sess.RecordingID = recordingID

	pl, err := edge.Build(r.Context(), sess, q, nil, s.recStore, s.signer, s.cli.RecordingBaseURL)
	if err != nil {
		errors.WriteHTTPBadRequest(w, "error building playlist", err)
		return
	}

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(edge.Render(pl, s.renderConfig())))
}

// liveMaster renders a master playlist over every rendition this room has
// published a snapshot for so far. Since the Track State Engine doesn't
// carry bitrate/resolution metadata, every variant is listed with a
// placeholder bandwidth ordered by rendition name - good enough for a
// player to pick a rendition by name, not for real ABR bandwidth matching.
func (s *server) liveMaster(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	room := ps.ByName("room")
	names := s.reg.renditionsFor(room)
	if len(names) == 0 {
		errors.WriteHTTPNotFound(w, "no renditions published yet for this room", nil)
		return
	}

	body, err := edge.BuildMaster(variantsFor(names, func(name string) string {
		return fmt.Sprintf("%s/index.m3u8", name)
	}))
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "error building master playlist", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	_, _ = w.Write([]byte(body))
}

// recordingMaster answers 404 for every recording: no master playlist is
// built for a finished recording, since recording.Store offers no lookup of
// a recording's rendition names.
func (s *server) recordingMaster(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	errors.WriteHTTPNotFound(w, "recording master playlists aren't indexed by rendition name yet", nil)
}

func variantsFor(names []string, urlFor func(string) string) []edge.RenditionVariant {
	variants := make([]edge.RenditionVariant, 0, len(names))
	for i, name := range names {
		variants = append(variants, edge.RenditionVariant{
			Name:      name,
			URL:       urlFor(name),
			Bandwidth: uint32(1_000_000 * (i + 1)),
			Codecs:    "avc1.64001f,mp4a.40.2",
		})
	}
	return variants
}

// liveMedia serves one signed media object (init segment, Part, or sealed
// Segment) for a live connection's rendition, verifying the ?token= query
// parameter against the exact object path requested.
func (s *server) liveMedia(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	room := ps.ByName("room")
	rendition := ps.ByName("rendition")
	objpath := strings.TrimPrefix(ps.ByName("objpath"), "/")

	target, err := parseMediaTarget(objpath)
	if err != nil {
		errors.WriteHTTPBadRequest(w, "error parsing media path", err)
		return
	}

	tok := r.URL.Query().Get("token")
	if _, err := s.signer.VerifyMedia(tok, rendition, target); err != nil {
		errors.WriteHTTPUnauthorized(w, "invalid media token", err)
		return
	}

	store := objectstore.New(fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cli.ObjectStoreURL, "/"), room, rendition))
	serveObject(w, r, store, objpath)
}

// recordingMedia serves archived DVR media, unauthenticated: a recording's
// object paths are keyed by an unguessable ULID, the same capability model
// spec.md's public_url already assumes for a public recording.
func (s *server) recordingMedia(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	recordingID := ps.ByName("recordingid")
	rendition := ps.ByName("rendition")
	objpath := strings.TrimPrefix(ps.ByName("objpath"), "/")

	store := objectstore.New(fmt.Sprintf("%s/%s/%s", strings.TrimRight(s.cli.RecordingBaseURL, "/"), recordingID, rendition))
	serveObject(w, r, store, objpath)
}

func serveObject(w http.ResponseWriter, r *http.Request, store *objectstore.Client, objpath string) {
	rc, err := store.Get(r.Context(), objpath)
	if err != nil {
		if errors.IsObjectNotFound(err) {
			errors.WriteHTTPNotFound(w, "object not found", err)
			return
		}
		errors.WriteHTTPInternalServerError(w, "error reading object", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "video/mp4")
	if _, err := io.Copy(w, rc); err != nil {
		log.LogNoRequestID("error streaming media object", "path", objpath, "err", err)
	}
}

// parseMediaTarget maps an object-store relative path (as objectstore.Client
// writes it) back to the MediaClaims target that must have authorized it.
func parseMediaTarget(objpath string) (token.MediaTarget, error) {
	switch {
	case objpath == "init.mp4":
		return token.MediaTarget{Init: true}, nil
	case strings.HasPrefix(objpath, "segments/"):
		idx, err := parseIdx(strings.TrimSuffix(strings.TrimPrefix(objpath, "segments/"), ".m4s"))
		if err != nil {
			return token.MediaTarget{}, err
		}
		return token.MediaTarget{Segment: &idx}, nil
	case strings.HasPrefix(objpath, "parts/"):
		fields := strings.Split(strings.TrimSuffix(strings.TrimPrefix(objpath, "parts/"), ".m4s"), "/")
		if len(fields) != 2 {
			return token.MediaTarget{}, fmt.Errorf("malformed part path %q", objpath)
		}
		idx, err := parseIdx(fields[1])
		if err != nil {
			return token.MediaTarget{}, err
		}
		return token.MediaTarget{Part: &idx}, nil
	default:
		return token.MediaTarget{}, fmt.Errorf("unrecognized media path %q", objpath)
	}
}

func parseIdx(s string) (uint32, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse index %q: %w", s, err)
	}
	return uint32(n), nil
}

// liveRegistry holds one edge.LiveState per (room, rendition), lazily
// subscribing to that room's manifest subject the first time either is
// requested. A room is identified by the same string cmd/ingest's
// stream-key preamble and connection id use - this edge process treats one
// playback room as exactly one ingest connection id, so a room is only
// ever playable while its ingest connection is the most recent one to have
// used that name.
type liveRegistry struct {
	b *bus.Bus

	mu    sync.Mutex
	rooms map[string]*roomState
}

// roomState caches one room's per-rendition LiveState behind the teacher's
// own generic Cache[T] (cache/cache.go), adapted here from its original
// ad-hoc stream-info storage in handlers/transcode.go to this room's
// rendition lookup. A small side set of known names is kept alongside it
// since Cache itself exposes no enumeration, which liveMaster needs.
type roomState struct {
	renditions *cache.Cache[*edge.LiveState]

	mu    sync.Mutex
	names map[string]struct{}
}

func newRoomState() *roomState {
	return &roomState{renditions: cache.New[*edge.LiveState](), names: map[string]struct{}{}}
}

func newLiveRegistry(b *bus.Bus) *liveRegistry {
	return &liveRegistry{b: b, rooms: map[string]*roomState{}}
}

func (lr *liveRegistry) room(room string) *roomState {
	lr.mu.Lock()
	defer lr.mu.Unlock()

	rs, ok := lr.rooms[room]
	if ok {
		return rs
	}

	rs = newRoomState()
	lr.rooms[room] = rs

	_, err := lr.b.SubscribeManifests(room, "edge-"+room, func(payload []byte) error {
		rendition, m, err := manifest.DecodeManifest(payload)
		if err != nil {
			return err
		}
		rs.stateFor(rendition).Update(m)
		return nil
	})
	if err != nil {
		log.LogNoRequestID("liveRegistry: error subscribing to room", "room", room, "err", err.Error())
	}

	return rs
}

func (lr *liveRegistry) stateFor(room, rendition string) *edge.LiveState {
	return lr.room(room).stateFor(rendition)
}

func (lr *liveRegistry) renditionsFor(room string) []string {
	rs := lr.room(room)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	names := make([]string, 0, len(rs.names))
	for name := range rs.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (rs *roomState) stateFor(rendition string) *edge.LiveState {
	if st := rs.renditions.Get(rendition); st != nil {
		return st
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if st := rs.renditions.Get(rendition); st != nil {
		return st
	}
	st := edge.NewLiveState()
	rs.renditions.Store(rendition, st)
	rs.names[rendition] = struct{}{}
	return st
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	select {
	case s := <-c:
		return fmt.Errorf("caught signal %v", s)
	case <-ctx.Done():
		return nil
	}
}
