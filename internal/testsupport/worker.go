package testsupport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"reelgrab/internal/channel"
	"reelgrab/internal/services/worker"
)

// Submission is one accepted job request.
type Submission struct {
	ID      string
	Audio   bool
	Request worker.SubmitRequest
}

type failure struct {
	status  int
	message string
}

// FakeWorker is an in-process worker serving the REST endpoints, the
// websocket push channel, and the long-poll fallback.
type FakeWorker struct {
	t      testing.TB
	server *httptest.Server
	closed chan struct{}
	once   sync.Once

	mu            sync.Mutex
	changed       chan struct{}
	token         string
	wsDisabled    bool
	previews      map[string]worker.Preview
	previewErrs   map[string]failure
	previewDelay  time.Duration
	submitDelay   time.Duration
	inline        *worker.Snapshot
	cancelOutcome string
	submissions   []Submission
	nextID        int
	files         map[string][]byte
	bundleName    string
	bundle        []byte
	peers         map[*peer]struct{}
	sessions      map[string]*pollSession
	cancels       []string
	connects      int
}

type peer struct {
	rooms map[string]bool
	send  func(channel.Frame)
	drop  func()
}

// NewFakeWorker starts a worker and registers cleanup with t.
func NewFakeWorker(t testing.TB) *FakeWorker {
	t.Helper()

	fw := &FakeWorker{
		t:           t,
		closed:      make(chan struct{}),
		changed:     make(chan struct{}),
		previews:    make(map[string]worker.Preview),
		previewErrs: make(map[string]failure),
		files:       make(map[string][]byte),
		peers:       make(map[*peer]struct{}),
		sessions:    make(map[string]*pollSession),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", fw.serveHealth)
	mux.HandleFunc("POST /api/preview", fw.servePreview)
	mux.HandleFunc("POST /api/download", fw.serveSubmit(false))
	mux.HandleFunc("POST /api/download-audio", fw.serveSubmit(true))
	mux.HandleFunc("POST /api/download-with-metadata", fw.serveBundle)
	mux.HandleFunc("GET "+channel.WebSocketPath, fw.serveWebSocket)
	mux.HandleFunc("POST "+channel.PollConnectPath, fw.servePollConnect)
	mux.HandleFunc("GET "+channel.PollEventsPath, fw.servePollEvents)
	mux.HandleFunc("POST "+channel.PollEmitPath, fw.servePollEmit)
	mux.HandleFunc("POST "+channel.PollDisconnectPath, fw.servePollDisconnect)
	mux.HandleFunc("GET /", fw.serveFile)

	fw.server = httptest.NewServer(fw.guard(mux))
	t.Cleanup(fw.Close)
	return fw
}

// URL returns the worker base URL.
func (fw *FakeWorker) URL() string {
	return fw.server.URL
}

// Close drops every push connection and stops the server.
func (fw *FakeWorker) Close() {
	fw.once.Do(func() {
		close(fw.closed)
		fw.DropConnections()
		fw.server.Close()
	})
}

// RequireToken makes every endpoint demand a bearer token.
func (fw *FakeWorker) RequireToken(token string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.token = token
}

// DisableWebSocket makes the websocket endpoint answer 404 so clients fall
// back to long-polling.
func (fw *FakeWorker) DisableWebSocket() {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.wsDisabled = true
}

// SetPreview registers the preview returned for rawURL.
func (fw *FakeWorker) SetPreview(rawURL string, preview worker.Preview) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.previews[rawURL] = preview
	delete(fw.previewErrs, rawURL)
}

// FailPreview makes previews of rawURL fail with status and message.
func (fw *FakeWorker) FailPreview(rawURL string, status int, message string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.previewErrs[rawURL] = failure{status: status, message: message}
}

// SetPreviewDelay delays every preview response.
func (fw *FakeWorker) SetPreviewDelay(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.previewDelay = d
}

// SetSubmitDelay delays every submission response.
func (fw *FakeWorker) SetSubmitDelay(d time.Duration) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.submitDelay = d
}

// CompleteInline makes submissions finish synchronously with snap. A nil
// snap restores asynchronous acceptance.
func (fw *FakeWorker) CompleteInline(snap *worker.Snapshot) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.inline = snap
}

// SetCancelOutcome sets the status pushed after the "cancelling"
// acknowledgement. An empty status pushes only the acknowledgement.
func (fw *FakeWorker) SetCancelOutcome(status string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.cancelOutcome = status
}

// AddFile serves body at path. Proxy routes look files up by their url
// parameter instead of the request path.
func (fw *FakeWorker) AddFile(path string, body []byte) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.files[path] = body
}

// SetBundle configures the metadata zip.
func (fw *FakeWorker) SetBundle(filename string, body []byte) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.bundleName = filename
	fw.bundle = body
}

// Submissions returns accepted job requests in order.
func (fw *FakeWorker) Submissions() []Submission {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]Submission(nil), fw.submissions...)
}

// Cancels returns the job ids a cancel_download was received for.
func (fw *FakeWorker) Cancels() []string {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return append([]string(nil), fw.cancels...)
}

// Connects is the number of push connections opened so far.
func (fw *FakeWorker) Connects() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return fw.connects
}

// Push sends a download_update to every peer in the job's room and returns
// how many received it.
func (fw *FakeWorker) Push(jobID string, snap worker.Snapshot) int {
	frame, err := channel.NewFrame(channel.EventDownloadUpdate, channel.UpdatePayload{DownloadID: jobID, Session: snap})
	if err != nil {
		fw.t.Errorf("encode update: %v", err)
		return 0
	}
	targets := fw.roomPeers(jobID)
	for _, p := range targets {
		p.send(frame)
	}
	return len(targets)
}

// WaitJoined blocks until a peer joins the job's room.
func (fw *FakeWorker) WaitJoined(ctx context.Context, jobID string) error {
	return fw.wait(ctx, func() bool {
		for p := range fw.peers {
			if p.rooms[jobID] {
				return true
			}
		}
		return false
	})
}

// WaitLeft blocks until no peer is in the job's room.
func (fw *FakeWorker) WaitLeft(ctx context.Context, jobID string) error {
	return fw.wait(ctx, func() bool {
		for p := range fw.peers {
			if p.rooms[jobID] {
				return false
			}
		}
		return true
	})
}

// WaitConnects blocks until at least n push connections were opened.
func (fw *FakeWorker) WaitConnects(ctx context.Context, n int) error {
	return fw.wait(ctx, func() bool {
		return fw.connects >= n
	})
}

// WaitCancel blocks until a cancel_download for jobID arrives.
func (fw *FakeWorker) WaitCancel(ctx context.Context, jobID string) error {
	return fw.wait(ctx, func() bool {
		for _, id := range fw.cancels {
			if id == jobID {
				return true
			}
		}
		return false
	})
}

// DropConnections closes every websocket and expires every poll session.
func (fw *FakeWorker) DropConnections() {
	fw.mu.Lock()
	peers := make([]*peer, 0, len(fw.peers))
	for p := range fw.peers {
		peers = append(peers, p)
	}
	fw.peers = make(map[*peer]struct{})
	fw.sessions = make(map[string]*pollSession)
	fw.signalLocked()
	fw.mu.Unlock()

	for _, p := range peers {
		if p.drop != nil {
			p.drop()
		}
	}
}

func (fw *FakeWorker) wait(ctx context.Context, cond func() bool) error {
	for {
		fw.mu.Lock()
		ok := cond()
		changed := fw.changed
		fw.mu.Unlock()
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
}

func (fw *FakeWorker) signalLocked() {
	close(fw.changed)
	fw.changed = make(chan struct{})
}

func (fw *FakeWorker) roomPeers(jobID string) []*peer {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	var out []*peer
	for p := range fw.peers {
		if p.rooms[jobID] {
			out = append(out, p)
		}
	}
	return out
}

func (fw *FakeWorker) addPeer(p *peer) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	fw.peers[p] = struct{}{}
	fw.connects++
	fw.signalLocked()
}

func (fw *FakeWorker) removePeer(p *peer) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	delete(fw.peers, p)
	fw.signalLocked()
}

func (fw *FakeWorker) handleFrame(p *peer, frame channel.Frame) {
	switch frame.Event {
	case channel.EventJoin, channel.EventLeave, channel.EventCancel:
		var room channel.RoomPayload
		if err := frame.Decode(&room); err != nil || room.DownloadID == "" {
			return
		}
		fw.mu.Lock()
		switch frame.Event {
		case channel.EventJoin:
			p.rooms[room.DownloadID] = true
		case channel.EventLeave:
			delete(p.rooms, room.DownloadID)
		case channel.EventCancel:
			fw.cancels = append(fw.cancels, room.DownloadID)
		}
		outcome := fw.cancelOutcome
		fw.signalLocked()
		fw.mu.Unlock()

		if frame.Event == channel.EventCancel {
			fw.Push(room.DownloadID, worker.Snapshot{Status: worker.StatusCancelling, Message: "Cancelling..."})
			if outcome != "" {
				fw.Push(room.DownloadID, worker.Snapshot{Status: outcome})
			}
		}
	case channel.EventPing:
		pong, _ := channel.NewFrame(channel.EventPong, nil)
		p.send(pong)
	}
}

func (fw *FakeWorker) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fw.mu.Lock()
		token := fw.token
		fw.mu.Unlock()
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (fw *FakeWorker) serveHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, worker.Health{
		Status:          "ok",
		Timestamp:       time.Now().UTC().Format(time.RFC3339),
		FFmpegAvailable: true,
	})
}

func (fw *FakeWorker) servePreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}

	fw.mu.Lock()
	delay := fw.previewDelay
	preview, ok := fw.previews[body.URL]
	fail, failed := fw.previewErrs[body.URL]
	fw.mu.Unlock()

	if !fw.sleep(r.Context(), delay) {
		return
	}
	switch {
	case failed:
		writeJSON(w, fail.status, map[string]string{"error": fail.message})
	case ok:
		writeJSON(w, http.StatusOK, preview)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported URL"})
	}
}

func (fw *FakeWorker) serveSubmit(audio bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req worker.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.URL) == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "URL is required"})
			return
		}

		fw.mu.Lock()
		delay := fw.submitDelay
		inline := fw.inline
		fw.nextID++
		id := fmt.Sprintf("job-%d", fw.nextID)
		if inline != nil {
			id = ""
		}
		fw.submissions = append(fw.submissions, Submission{ID: id, Audio: audio, Request: req})
		fw.signalLocked()
		fw.mu.Unlock()

		if !fw.sleep(r.Context(), delay) {
			return
		}
		if inline != nil {
			writeJSON(w, http.StatusOK, worker.SubmitResponse{Snapshot: *inline})
			return
		}
		writeJSON(w, http.StatusAccepted, worker.SubmitResponse{DownloadID: id})
	}
}

func (fw *FakeWorker) serveBundle(w http.ResponseWriter, _ *http.Request) {
	fw.mu.Lock()
	name, body := fw.bundleName, fw.bundle
	fw.mu.Unlock()

	if body == nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "ZIP creation failed"})
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	if name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

func (fw *FakeWorker) serveFile(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Path
	switch key {
	case "/api/proxy-download", "/api/proxy-video", "/api/proxy-image":
		key = r.URL.Query().Get("url")
	}

	fw.mu.Lock()
	body, ok := fw.files[key]
	fw.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"})
		return
	}
	if name := r.URL.Query().Get("filename"); name != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	_, _ = w.Write(body)
}

func (fw *FakeWorker) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	fw.mu.Lock()
	disabled := fw.wsDisabled
	fw.mu.Unlock()
	if disabled {
		http.NotFound(w, r)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	p := &peer{
		rooms: make(map[string]bool),
		send: func(frame channel.Frame) {
			_ = wsjson.Write(ctx, conn, frame)
		},
		drop: func() {
			_ = conn.Close(websocket.StatusGoingAway, "dropped")
		},
	}
	fw.addPeer(p)
	defer fw.removePeer(p)

	hello, _ := channel.NewFrame(channel.EventConnectionResponse, map[string]string{"message": "Connected"})
	p.send(hello)

	for {
		var frame channel.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return
		}
		fw.handleFrame(p, frame)
	}
}

type pollSession struct {
	peer *peer
	gone chan struct{}
	once sync.Once

	mu     sync.Mutex
	events []channel.Frame
	notify chan struct{}
}

func newPollSession() *pollSession {
	s := &pollSession{
		gone:   make(chan struct{}),
		notify: make(chan struct{}),
	}
	s.peer = &peer{
		rooms: make(map[string]bool),
		send:  s.append,
		drop:  s.expire,
	}
	return s
}

func (s *pollSession) append(frame channel.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, frame)
	close(s.notify)
	s.notify = make(chan struct{})
}

func (s *pollSession) since(cursor uint64) ([]channel.Frame, uint64, <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := uint64(len(s.events))
	if cursor >= next {
		return nil, cursor, s.notify
	}
	return append([]channel.Frame(nil), s.events[cursor:]...), next, s.notify
}

func (s *pollSession) expire() {
	s.once.Do(func() { close(s.gone) })
}

func (fw *FakeWorker) session(sid string) (*pollSession, bool) {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	s, ok := fw.sessions[sid]
	return s, ok
}

func (fw *FakeWorker) servePollConnect(w http.ResponseWriter, _ *http.Request) {
	sid := uuid.NewString()
	s := newPollSession()

	fw.mu.Lock()
	fw.sessions[sid] = s
	fw.mu.Unlock()
	fw.addPeer(s.peer)

	hello, _ := channel.NewFrame(channel.EventConnectionResponse, map[string]string{"message": "Connected"})
	s.append(hello)
	writeJSON(w, http.StatusOK, map[string]string{"sid": sid})
}

func (fw *FakeWorker) servePollEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	s, ok := fw.session(query.Get("sid"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown session"})
		return
	}
	cursor, _ := strconv.ParseUint(query.Get("since"), 10, 64)
	wait, _ := strconv.Atoi(query.Get("wait"))
	if wait <= 0 {
		wait = 1
	}
	timer := time.NewTimer(time.Duration(wait) * time.Second)
	defer timer.Stop()

	for {
		frames, next, notify := s.since(cursor)
		if len(frames) > 0 {
			writeJSON(w, http.StatusOK, channel.PollBatch{Events: frames, Next: next})
			return
		}
		select {
		case <-notify:
		case <-s.gone:
			writeJSON(w, http.StatusGone, map[string]string{"error": "Session expired"})
			return
		case <-timer.C:
			writeJSON(w, http.StatusOK, channel.PollBatch{Events: []channel.Frame{}, Next: cursor})
			return
		case <-fw.closed:
			writeJSON(w, http.StatusGone, map[string]string{"error": "Session expired"})
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (fw *FakeWorker) servePollEmit(w http.ResponseWriter, r *http.Request) {
	var emit channel.PollEmit
	if err := json.NewDecoder(r.Body).Decode(&emit); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid request"})
		return
	}
	s, ok := fw.session(emit.SID)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown session"})
		return
	}
	fw.handleFrame(s.peer, channel.Frame{Event: emit.Event, Data: emit.Data})
	w.WriteHeader(http.StatusNoContent)
}

func (fw *FakeWorker) servePollDisconnect(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SID string `json:"sid"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	fw.mu.Lock()
	s, ok := fw.sessions[body.SID]
	delete(fw.sessions, body.SID)
	fw.mu.Unlock()

	if ok {
		fw.removePeer(s.peer)
		s.expire()
	}
	w.WriteHeader(http.StatusNoContent)
}

func (fw *FakeWorker) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-fw.closed:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
