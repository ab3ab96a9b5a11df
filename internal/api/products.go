package api

import (
	"net/http"

	"github.com/banshee-data/spray.report/internal/httputil"
	"github.com/banshee-data/spray.report/internal/spray"
)

func (s *Server) listProducts(hidden bool) http.HandlerFunc {
	op := "products"
	if hidden {
		op = "products.hidden"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, op, http.MethodGet) {
			return
		}
		products, err := s.store.Products(r.Context(), hidden)
		if err != nil {
			httputil.WriteError(w, op, err)
			return
		}
		if products == nil {
			products = []spray.Product{}
		}
		httputil.WriteJSONOK(w, products)
	}
}

// updateProducts re-derives products from the current sessions.
func (s *Server) updateProducts(w http.ResponseWriter, r *http.Request) {
	const op = "products.update"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	products, err := s.jobs.UpdateProducts(r.Context())
	if err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	if products == nil {
		products = []spray.Product{}
	}
	httputil.WriteJSONOK(w, products)
}

func (s *Server) setProductHidden(hidden bool) http.HandlerFunc {
	op := "products.restore"
	if hidden {
		op = "products.hide"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if !requireMethod(w, r, op, http.MethodPost) {
			return
		}
		req, ok := decodeID(w, r, op)
		if !ok {
			return
		}
		if err := s.store.SetProductHidden(r.Context(), req.ID, hidden); err != nil {
			httputil.WriteError(w, op, err)
			return
		}
		httputil.WriteJSONOK(w, map[string]interface{}{"id": req.ID, "hidden": hidden})
	}
}

func (s *Server) commentProduct(w http.ResponseWriter, r *http.Request) {
	const op = "products.comment"
	if !requireMethod(w, r, op, http.MethodPost) {
		return
	}
	req, ok := decodeID(w, r, op)
	if !ok {
		return
	}
	if err := s.store.SetProductComment(r.Context(), req.ID, req.Comment); err != nil {
		httputil.WriteError(w, op, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{"id": req.ID, "comments": req.Comment})
}
