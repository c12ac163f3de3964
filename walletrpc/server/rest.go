package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
)

// registerRESTHandlers wires RPCServer's facade onto mux using
// grpc-gateway's HandlePath, the same routing primitive a generated
// reverse-proxy would use -- there is no .proto service behind this
// server, so each route calls straight through to RPCServer rather
// than through a generated client stub.
func (s *Server) registerRESTHandlers(mux *runtime.ServeMux) {
	must := func(err error) {
		if err != nil {
			rpcLog.Errorf("register rest handler: %v", err)
		}
	}

	must(mux.HandlePath("GET", "/v1/address", s.handleAddress))
	must(mux.HandlePath("GET", "/v1/balance", s.handleBalance))
	must(mux.HandlePath("GET", "/v1/utxos", s.handleUtxos))
	must(mux.HandlePath("GET", "/v1/transactions", s.handleTransactions))
	must(mux.HandlePath("GET", "/v1/transaction/{txid}", s.handleTransaction))
	must(mux.HandlePath("POST", "/v1/pset/details", s.handleGetDetails))
	must(mux.HandlePath("POST", "/v1/pset/combine", s.handleCombine))
	must(mux.HandlePath("POST", "/v1/pset/finalize", s.handleFinalize))
	must(mux.HandlePath("POST", "/v1/tx/apply", s.handleApplyTransaction))
	must(mux.HandlePath("POST", "/v1/reunblind", s.handleReunblind))
	must(mux.HandlePath("POST", "/v1/reunblind/with", s.handleReunblindWith))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func decodeJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var index *uint32
	if raw := r.URL.Query().Get("index"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		idx := uint32(n)
		index = &idx
	}
	reply, err := s.rpc.Address(index)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, s.rpc.Balance())
}

func (s *Server) handleUtxos(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, s.rpc.Utxos())
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	writeJSON(w, http.StatusOK, s.rpc.Transactions())
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request, params map[string]string) {
	reply, err := s.rpc.Transaction(params["txid"])
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleGetDetails(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Pset string `json:"pset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.rpc.GetDetails(req.Pset)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCombine(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req CombineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.rpc.Combine(req)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req struct {
		Pset string `json:"pset"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.rpc.Finalize(req.Pset)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleApplyTransaction(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req BroadcastRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	reply, err := s.rpc.ApplyTransaction(req)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleReunblind(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	reply, err := s.rpc.Reunblind()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleReunblindWith(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	var req ReunblindWithRequest
	if err := decodeJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rpc.ReunblindWith(req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
