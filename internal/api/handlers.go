package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"transferScope/internal/model"
	"transferScope/internal/storage"
)

// StatsResponse reports store totals next to the streaming checkpoint. The
// checkpoint may run ahead of HighestIndexedBlock when recent blocks held no
// transfers.
type StatsResponse struct {
	TotalTransfers      int64   `json:"totalTransfers"`
	HighestIndexedBlock *uint64 `json:"highestIndexedBlock"`
	Checkpoint          *uint64 `json:"checkpoint"`
}

type listResponse struct {
	Transfers []model.TransferRecord `json:"transfers"`
	Count     int                    `json:"count"`
	Limit     int                    `json:"limit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	filter := storage.Filter{Limit: parseLimit(r, defaultListLimit, maxListLimit)}

	if address := strings.TrimSpace(r.URL.Query().Get("address")); address != "" {
		if !common.IsHexAddress(address) {
			respondError(w, "invalid address", http.StatusBadRequest)
			return
		}
		filter.Address = common.HexToAddress(address).Hex()
	}

	transfers, err := s.events.FindMany(r.Context(), filter)
	if err != nil {
		s.internalError(w, r, "list transfers", err)
		return
	}

	respondJSON(w, http.StatusOK, listResponse{
		Transfers: transfers,
		Count:     len(transfers),
		Limit:     filter.Limit,
	})
}

func (s *Server) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	txHash := mux.Vars(r)["txHash"]
	decoded, err := hexutil.Decode(txHash)
	if err != nil || len(decoded) != common.HashLength {
		respondError(w, "invalid transaction hash", http.StatusBadRequest)
		return
	}

	transfer, err := s.events.FindByTxHash(r.Context(), common.BytesToHash(decoded).Hex())
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, "transfer not found", http.StatusNotFound)
			return
		}
		s.internalError(w, r, "get transfer", err)
		return
	}
	respondJSON(w, http.StatusOK, transfer)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	total, err := s.events.Count(ctx)
	if err != nil {
		s.internalError(w, r, "count transfers", err)
		return
	}

	resp := StatsResponse{TotalTransfers: total}

	highest, ok, err := s.events.MaxBlock(ctx)
	if err != nil {
		s.internalError(w, r, "max block", err)
		return
	}
	if ok {
		resp.HighestIndexedBlock = &highest
	}

	if s.checkpoints != nil {
		cp, ok, err := s.checkpoints.Read(ctx)
		if err != nil {
			s.internalError(w, r, "read checkpoint", err)
			return
		}
		if ok {
			resp.Checkpoint = &cp
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

// internalError logs the cause and answers with a generic message.
func (s *Server) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.Error("request failed", zap.String("op", op), zap.String("path", r.URL.Path), zap.Error(err))
	respondError(w, "internal server error", http.StatusInternalServerError)
}
