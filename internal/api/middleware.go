package api

import (
	"fmt"
	"net/http"
)

func (s *HuddleApp) errorHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				panicErr, ok := rec.(error)
				if !ok {
					panicErr = fmt.Errorf("%v", rec)
				}

				w.Header().Set("Connection", "close")
				s.writeError(w, r, NewInternalServerError(fmt.Errorf("panic: %w", panicErr)))
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// authMiddleware resolves the session cookie to a user id and stores it on
// the request context.
func (s *HuddleApp) authMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tokenCookie, err := r.Cookie(tokenCookieKey)
		if err != nil {
			s.writeError(w, r, NewUnauthorizedError())
			return
		}

		userId, err := s.extractUserIdFromToken(tokenCookie.Value)
		if err != nil {
			s.log.Printf("%s %s from %s: failed to extract user id from token: %v", r.Method, r.URL.Path, r.RemoteAddr, err)
			s.writeError(w, r, NewUnauthorizedError())
			return
		}

		w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")

		next(w, r.WithContext(WithUserId(r.Context(), userId)))
	}
}
