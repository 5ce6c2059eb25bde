package deriv

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"DigitPilot/pkg/logger"

	"github.com/gorilla/websocket"
)

// venueServer speaks just enough of the venue protocol for the tests: it
// answers calls by req_id and can push tick and contract frames.
type venueServer struct {
	t   *testing.T
	srv *httptest.Server
	url string

	mu       sync.Mutex
	conns    []*websocket.Conn
	authFail bool
	prices   []float64
	times    []int64
	pipSize  int
	forgets  []string
	buys     int
}

func newVenueServer(t *testing.T) *venueServer {
	t.Helper()
	s := &venueServer{
		t:       t,
		prices:  []float64{101.231, 101.242, 101.253},
		times:   []int64{1000, 1001, 1002},
		pipSize: 3,
	}
	upgrader := websocket.Upgrader{}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		go s.serve(conn)
	}))
	s.url = strings.Replace(s.srv.URL, "http", "ws", 1)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *venueServer) write(conn *websocket.Conn, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = conn.WriteJSON(v)
}

func (s *venueServer) serve(conn *websocket.Conn) {
	for {
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		reqID, _ := req["req_id"].(float64)

		switch {
		case req["authorize"] != nil:
			s.mu.Lock()
			fail := s.authFail
			s.mu.Unlock()
			if fail {
				s.write(conn, map[string]any{
					"msg_type": "authorize",
					"req_id":   reqID,
					"error":    map[string]any{"code": "InvalidToken", "message": "token is invalid"},
				})
				continue
			}
			s.write(conn, map[string]any{
				"msg_type": "authorize",
				"req_id":   reqID,
				"authorize": map[string]any{
					"loginid":  "CR90001",
					"currency": "USD",
					"balance":  250.0,
				},
			})

		case req["ticks_history"] != nil:
			s.mu.Lock()
			prices, times, pip := s.prices, s.times, s.pipSize
			s.mu.Unlock()
			resp := map[string]any{
				"msg_type": "history",
				"req_id":   reqID,
				"history":  map[string]any{"prices": prices, "times": times},
				"pip_size": pip,
			}
			if sub, _ := req["subscribe"].(float64); sub == 1 {
				resp["subscription"] = map[string]any{"id": "ticks-" + req["ticks_history"].(string)}
			}
			s.write(conn, resp)

		case req["buy"] != nil:
			s.mu.Lock()
			s.buys++
			s.mu.Unlock()
			s.write(conn, map[string]any{
				"msg_type": "buy",
				"req_id":   reqID,
				"buy": map[string]any{
					"contract_id":   int64(7001),
					"buy_price":     10.0,
					"payout":        19.5,
					"purchase_time": int64(1700000000),
				},
			})

		case req["proposal_open_contract"] != nil:
			cid, _ := req["contract_id"].(float64)
			s.write(conn, map[string]any{
				"msg_type": "proposal_open_contract",
				"req_id":   reqID,
				"proposal_open_contract": map[string]any{
					"contract_id":  int64(cid),
					"profit":       0.0,
					"payout":       19.5,
					"entry_spot":   101.253,
					"current_spot": 101.253,
					"status":       "open",
				},
				"subscription": map[string]any{"id": "poc-1"},
			})

		case req["sell"] != nil:
			s.write(conn, map[string]any{
				"msg_type": "sell",
				"req_id":   reqID,
				"sell":     map[string]any{"sold_for": 8.4},
			})

		case req["balance"] != nil:
			s.write(conn, map[string]any{
				"msg_type": "balance",
				"req_id":   reqID,
				"balance":  map[string]any{"balance": 250.0, "currency": "USD", "loginid": "CR90001"},
			})

		case req["forget"] != nil:
			s.mu.Lock()
			s.forgets = append(s.forgets, req["forget"].(string))
			s.mu.Unlock()
			s.write(conn, map[string]any{"msg_type": "forget", "req_id": reqID, "forget": 1})

		case req["ping"] != nil:
			s.write(conn, map[string]any{"msg_type": "ping", "req_id": reqID, "ping": "pong"})
		}
	}
}

func (s *venueServer) pushTick(symbol string, quote float64, epoch int64) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	for _, conn := range conns {
		s.write(conn, map[string]any{
			"msg_type": "tick",
			"tick": map[string]any{
				"symbol":   symbol,
				"quote":    quote,
				"epoch":    epoch,
				"pip_size": s.pipSize,
			},
		})
	}
}

func (s *venueServer) pushContract(contractID int64, profit float64, status string, sold bool) {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	soldFlag := 0
	if sold {
		soldFlag = 1
	}
	for _, conn := range conns {
		s.write(conn, map[string]any{
			"msg_type": "proposal_open_contract",
			"proposal_open_contract": map[string]any{
				"contract_id":  contractID,
				"profit":       profit,
				"payout":       19.5,
				"entry_spot":   101.253,
				"current_spot": 101.260,
				"is_sold":      soldFlag,
				"status":       status,
			},
		})
	}
}

func (s *venueServer) pushRaw(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		_ = conn.WriteMessage(websocket.TextMessage, data)
	}
}

func (s *venueServer) dropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *venueServer) forgotten() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.forgets...)
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(&logger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}
