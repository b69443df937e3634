// Package presentment orchestrates one proximity engagement on the holder
// side: transport connection, session establishment, request decoding,
// selection and consent, response assembly, and termination. One Engine
// serves exactly one engagement and reports its result exactly once.
package presentment
