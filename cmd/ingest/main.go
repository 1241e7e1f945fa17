// Command ingest is the RTMP-facing ingest process: it accepts one FLV byte
// stream per connection, runs it through the Transmuxer and Track State
// Engine, and publishes every resulting Part/manifest snapshot through the
// Rendition Manifest Publisher. RTMP handshake/chunk framing is out of
// scope (spec.md's own Non-goals) - each accepted connection is expected to
// already deliver raw FLV tag bytes, prefixed by one newline-terminated
// "room rendition" stream-key line the ingest front-end (e.g. an RTMP
// terminator) writes before the media bytes begin.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/golang/glog"
	"github.com/julienschmidt/httprouter"
	_ "github.com/lib/pq"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/catalyst-api/bus"
	"github.com/livepeer/catalyst-api/config"
	"github.com/livepeer/catalyst-api/errors"
	"github.com/livepeer/catalyst-api/flv"
	"github.com/livepeer/catalyst-api/log"
	"github.com/livepeer/catalyst-api/manifest"
	"github.com/livepeer/catalyst-api/metrics"
	"github.com/livepeer/catalyst-api/middleware"
	"github.com/livepeer/catalyst-api/objectstore"
	"github.com/livepeer/catalyst-api/pprof"
	"github.com/livepeer/catalyst-api/recording"
	"github.com/livepeer/catalyst-api/transmux"
)

func main() {
	cli := config.DefaultCli()
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)

	fs.StringVar(&cli.RTMPAddr, "rtmp-addr", cli.RTMPAddr, "Address to accept incoming FLV-over-TCP pushes on")
	fs.StringVar(&cli.ObjectStoreURL, "object-store-url", cli.ObjectStoreURL, "Base URL (s3://, file://) under which per-connection/rendition media is written")
	fs.StringVar(&cli.NATSURL, "nats-url", cli.NATSURL, "NATS server URL backing the manifest/event bus")
	fs.StringVar(&cli.PostgresDSN, "postgres-dsn", cli.PostgresDSN, "Postgres connection string for the recording store; empty disables DVR archival")
	fs.IntVar(&cli.MaxIngestStreams, "max-inflight-streams", cli.MaxIngestStreams, "Maximum number of concurrent ingest connections to accept")
	fs.IntVar(&cli.PprofPort, "pprof-port", cli.PprofPort, "Pprof listen port")
	fs.IntVar(&cli.PromPort, "prom-port", cli.PromPort, "Prometheus metrics listen port")
	fs.StringVar(&cli.IngestHTTPAddr, "http-addr", cli.IngestHTTPAddr, "Address for the internal status/health HTTP API")
	fs.StringVar(&cli.APIToken, "api-token", cli.APIToken, "Auth header value for the internal status API")
	fs.Float64Var(&cli.PartSecs, "target-part-duration", cli.PartSecs, "Target LL-HLS Part duration, in seconds")
	_ = fs.String("config", "", "config file (optional)")

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("CATALYST_INGEST"),
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

	ln, err := net.Listen("tcp", cli.RTMPAddr)
	if err != nil {
		glog.Fatalf("error listening on %s: %s", cli.RTMPAddr, err)
	}
	defer ln.Close()

	group, ctx := errgroup.WithContext(context.Background())

	go func() {
		glog.Info(pprof.ListenAndServe(cli.PprofPort))
	}()
	go func() {
		glog.Info(metrics.ListenAndServe(cli.PromPort))
	}()

	capacity := &middleware.CapacityMiddleware{}

	group.Go(func() error { return handleSignals(ctx) })
	group.Go(func() error { return acceptLoop(ctx, ln, cli, b, recStore) })
	group.Go(func() error { return serveStatus(cli, capacity) })

	glog.Infof("catalyst-ingest version %s listening on %s", config.Version, cli.RTMPAddr)
	if err := group.Wait(); err != nil {
		glog.Infof("shutdown: %s", err)
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, cli config.Cli, b *bus.Bus, rec *recording.Store) error {
	inFlight := make(chan struct{}, maxInt(cli.MaxIngestStreams, 1))
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}

		select {
		case inFlight <- struct{}{}:
		default:
			log.LogNoRequestID("ingest: rejecting connection, at capacity", "remote", conn.RemoteAddr().String())
			conn.Close()
			continue
		}

		go func() {
			defer func() { <-inFlight }()
			defer conn.Close()
			if err := handleConnection(ctx, conn, cli, b, rec); err != nil {
				log.LogNoRequestID("ingest: connection ended", "remote", conn.RemoteAddr().String(), "err", err.Error())
			}
		}()
	}
}

// handleConnection reads the "room rendition" stream-key preamble, then
// drives a Transmuxer over the remainder of conn until it's exhausted.
func handleConnection(ctx context.Context, conn net.Conn, cli config.Cli, b *bus.Bus, rec *recording.Store) error {
	r := bufio.NewReader(conn)
	preamble, err := r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("read stream-key preamble: %w", err)
	}
	fields := strings.Fields(preamble)
	if len(fields) != 2 {
		return fmt.Errorf("malformed stream-key preamble %q, want \"room rendition\"", preamble)
	}
	room, rendition := fields[0], fields[1]
	connectionID := fmt.Sprintf("%s-%d", room, connCounter.Add(1))

	store := objectstore.New(fmt.Sprintf("%s/%s/%s", strings.TrimRight(cli.ObjectStoreURL, "/"), connectionID, rendition))

	publishers := map[int]*manifest.Publisher{}
	cfg := transmux.Config{Rendition: rendition, Breakpoint: transmux.DefaultBreakpointConfig()}

	tm, err := transmux.New(cfg, r)
	if err != nil {
		return fmt.Errorf("transmux.New: %w", err)
	}

	return tm.Run(transmux.Callbacks{
		OnInit: func(trackIndex int, info flv.TrackInfo, initSegment []byte) error {
			name := trackRendition(rendition, info)
			pub := manifest.New(connectionID, name, store, b, manifestRecordingStore(rec))
			publishers[trackIndex] = pub
			return pub.PublishInit(ctx, initSegment)
		},
		OnParts: func(batch transmux.PartBatch) error {
			pub, ok := publishers[batch.TrackIndex]
			if !ok {
				return fmt.Errorf("parts for track %d before init", batch.TrackIndex)
			}
			snapshot := tm.Snapshot(batch.TrackIndex)
			if err := pub.PublishParts(ctx, batch.Parts, snapshot); err != nil {
				return err
			}

			evicted := tm.RetainSegments(batch.TrackIndex, cli.RetainSegments)
			if len(evicted) > 0 {
				if err := pub.PublishEviction(ctx, evicted, nil); err != nil {
					return err
				}
			}
			return nil
		},
	})
}

// trackRendition disambiguates the manifest namespace for a connection's
// audio track from its video track, since one RTMP push carries both but
// the Rendition Manifest Publisher is scoped to one elementary stream.
func trackRendition(rendition string, info flv.TrackInfo) string {
	if info.Kind == flv.KindAudio {
		return rendition + "a"
	}
	return rendition
}

func manifestRecordingStore(rec *recording.Store) manifest.RecordingStore {
	if rec == nil {
		return nil
	}
	return rec
}

// serveStatus runs the internal status API: a capacity- and auth-gated
// /sysinfo endpoint reporting host CPU, memory, disk and load figures. Its
// capacity gate counts concurrent /sysinfo requests, not ingest connections;
// the endpoint does not report how many streams this node is carrying.
func serveStatus(cli config.Cli, capacity *middleware.CapacityMiddleware) error {
	router := httprouter.New()
	router.GET("/sysinfo", middleware.LogRequest()(middleware.IsAuthorized(cli.APIToken,
		capacity.HasCapacity(cli.MaxIngestStreams, sysinfoHandler))))
	return http.ListenAndServe(cli.IngestHTTPAddr, router)
}

func sysinfoHandler(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	info, err := middleware.GetSystemInfo()
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "error gathering system info", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(info)
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

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

var connCounter atomic.Int64
