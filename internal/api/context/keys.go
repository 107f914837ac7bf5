package context

type contextKey string

// Params carries the httprouter path parameters through the request
// context so handlers keep the plain http.HandlerFunc signature.
const Params contextKey = "params"
