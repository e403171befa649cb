// Package http implements the HTTP handlers of the Pmax service. Handlers are
// thin: they decode and validate requests, call a service, and render the
// result. Every failure goes through the shared error handler so clients
// always receive RFC 7807 problem details.
//
// # Handler Structure
//
//	func (h *Handler) HandleSomething(w http.ResponseWriter, r *http.Request) {
//	    var req SomethingRequest
//	    if err := h.validator.Decode(r, &req); err != nil {
//	        h.errors.HandleError(w, r, err)
//	        return
//	    }
//	    result, err := h.service.Something(r.Context(), req)
//	    if err != nil {
//	        h.errors.HandleError(w, r, err)
//	        return
//	    }
//	    render.JSON(w, r, result)
//	}
package http
