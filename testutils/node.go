package testutils

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockTransfer is a native-asset transfer served by a MockNode.
type MockTransfer struct {
	TxID   string
	Sender string
	Amount string
	Memo   string
}

// MockNode is an in-memory Nine Chronicles GraphQL node. It serves the
// queries the bridge issues and records every staged transaction.
type MockNode struct {
	Server *httptest.Server

	mu        sync.Mutex
	tip       uint64
	hashes    map[uint64]string
	indices   map[string]uint64
	transfers map[string][]MockTransfer

	failures     int
	rejectStage  bool
	unsignedLag  time.Duration
	inFlight     int
	maxInFlight  int
	staged       [][]byte
	unsignedSeen int
}

// NewMockNode starts a mock node with an empty chain.
func NewMockNode() *MockNode {
	node := &MockNode{
		hashes:    map[uint64]string{},
		indices:   map[string]uint64{},
		transfers: map[string][]MockTransfer{},
	}
	node.Server = httptest.NewServer(http.HandlerFunc(node.handle))
	return node
}

// Close shuts the node down.
func (node *MockNode) Close() {
	node.Server.Close()
}

// URL returns the GraphQL endpoint of the node.
func (node *MockNode) URL() string {
	return node.Server.URL
}

// SetTip sets the index of the chain tip.
func (node *MockNode) SetTip(tip uint64) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.tip = tip
}

// AddBlock registers a block and its transfers.
func (node *MockNode) AddBlock(index uint64, hash string, transfers []MockTransfer) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.hashes[index] = hash
	node.indices[hash] = index
	node.transfers[hash] = transfers
	if index > node.tip {
		node.tip = index
	}
}

// FailNext makes the next n requests fail with a 500.
func (node *MockNode) FailNext(n int) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.failures = n
}

// RejectStage makes the node reject every staged transaction.
func (node *MockNode) RejectStage(reject bool) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.rejectStage = reject
}

// SetUnsignedLag delays every unsigned transaction build. Used to widen the
// window in which concurrent builds would overlap.
func (node *MockNode) SetUnsignedLag(lag time.Duration) {
	node.mu.Lock()
	defer node.mu.Unlock()
	node.unsignedLag = lag
}

// Staged returns every transaction the node accepted into its mempool.
func (node *MockNode) Staged() [][]byte {
	node.mu.Lock()
	defer node.mu.Unlock()
	staged := make([][]byte, len(node.staged))
	copy(staged, node.staged)
	return staged
}

// MaxInFlightUnsigned returns the maximum number of unsigned transaction
// builds that were ever in flight concurrently.
func (node *MockNode) MaxInFlightUnsigned() int {
	node.mu.Lock()
	defer node.mu.Unlock()
	return node.maxInFlight
}

func (node *MockNode) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query     string                 `json:"query"`
		Variables map[string]interface{} `json:"variables"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	node.mu.Lock()
	if node.failures > 0 {
		node.failures--
		node.mu.Unlock()
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	node.mu.Unlock()

	switch {
	case strings.Contains(req.Query, "blocks(desc"):
		node.mu.Lock()
		tip := node.tip
		node.mu.Unlock()
		writeData(w, map[string]interface{}{
			"chainQuery": map[string]interface{}{
				"blockQuery": map[string]interface{}{
					"blocks": []map[string]interface{}{{"index": tip}},
				},
			},
		})

	case strings.Contains(req.Query, "block(index:"):
		index := uint64(req.Variables["index"].(float64))
		node.mu.Lock()
		hash, ok := node.hashes[index]
		node.mu.Unlock()
		var block interface{}
		if ok {
			block = map[string]interface{}{"hash": hash}
		}
		writeData(w, map[string]interface{}{
			"chainQuery": map[string]interface{}{
				"blockQuery": map[string]interface{}{"block": block},
			},
		})

	case strings.Contains(req.Query, "block(hash:"):
		hash := req.Variables["hash"].(string)
		node.mu.Lock()
		index, ok := node.indices[hash]
		node.mu.Unlock()
		var block interface{}
		if ok {
			block = map[string]interface{}{"index": index}
		}
		writeData(w, map[string]interface{}{
			"chainQuery": map[string]interface{}{
				"blockQuery": map[string]interface{}{"block": block},
			},
		})

	case strings.Contains(req.Query, "transferNCGHistories"):
		hash := req.Variables["blockHash"].(string)
		node.mu.Lock()
		transfers := node.transfers[hash]
		node.mu.Unlock()
		histories := make([]map[string]interface{}, 0, len(transfers))
		for _, transfer := range transfers {
			histories = append(histories, map[string]interface{}{
				"txId":      transfer.TxID,
				"blockHash": hash,
				"sender":    transfer.Sender,
				"amount":    transfer.Amount,
				"memo":      transfer.Memo,
			})
		}
		writeData(w, map[string]interface{}{"transferNCGHistories": histories})

	case strings.Contains(req.Query, "createUnsignedTx"):
		node.mu.Lock()
		node.inFlight++
		if node.inFlight > node.maxInFlight {
			node.maxInFlight = node.inFlight
		}
		node.unsignedSeen++
		nonce := node.unsignedSeen
		lag := node.unsignedLag
		node.mu.Unlock()

		if lag > 0 {
			time.Sleep(lag)
		}

		plainValue, _ := base64.StdEncoding.DecodeString(req.Variables["plainValue"].(string))
		unsigned := []byte(fmt.Sprintf("unsigned-%v:%s", nonce, plainValue))

		node.mu.Lock()
		node.inFlight--
		node.mu.Unlock()
		writeData(w, map[string]interface{}{
			"transaction": map[string]interface{}{
				"createUnsignedTx": base64.StdEncoding.EncodeToString(unsigned),
			},
		})

	case strings.Contains(req.Query, "attachSignature"):
		unsigned, _ := base64.StdEncoding.DecodeString(req.Variables["unsignedTransaction"].(string))
		signature, _ := base64.StdEncoding.DecodeString(req.Variables["signature"].(string))
		signed := append(append([]byte{}, unsigned...), signature...)
		writeData(w, map[string]interface{}{
			"transaction": map[string]interface{}{
				"attachSignature": base64.StdEncoding.EncodeToString(signed),
			},
		})

	case strings.Contains(req.Query, "stageTransaction"):
		payload, _ := base64.StdEncoding.DecodeString(req.Variables["payload"].(string))
		node.mu.Lock()
		accepted := !node.rejectStage
		if accepted {
			node.staged = append(node.staged, payload)
		}
		node.mu.Unlock()
		writeData(w, map[string]interface{}{"stageTransaction": accepted})

	default:
		http.Error(w, fmt.Sprintf("unexpected query: %v", req.Query), http.StatusBadRequest)
	}
}

func writeData(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// TxIDOf returns the tx id the dispatcher derives for a signed transaction.
func TxIDOf(signedTx []byte) string {
	digest := sha256.Sum256(signedTx)
	return fmt.Sprintf("%x", digest)
}
