package presentment

import (
	"context"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/x509"
	"errors"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/engagement"
	"mdoclink/internal/protocol/request"
	"mdoclink/internal/protocol/response"
	"mdoclink/internal/protocol/session"
	"mdoclink/internal/transport/ble"
)

// State is the engine lifecycle. RoundComplete loops back to Active only when
// the engagement allows multiple rounds.
type State int

const (
	StateAwaitConnection State = iota
	StateActive
	StateRoundComplete
	StateTerminated
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitConnection:
		return "await-connection"
	case StateActive:
		return "active"
	case StateRoundComplete:
		return "round-complete"
	case StateTerminated:
		return "terminated"
	case StateFailed:
		return "failed"
	default:
		return "invalid"
	}
}

var (
	ErrAlreadyRun = errors.New("engine already ran; one engine serves one engagement")

	errNothingToDisclose = errors.New("no requested element matched the credential")
)

// Config wires one engagement's collaborators into an engine. Transport,
// Keys, Selector, Consent, Engagement and EDeviceKey are required.
type Config struct {
	Transport domain.Transport
	Keys      domain.SecureArea
	Selector  domain.CredentialSelector
	Consent   domain.ConsentHandler

	// Engagement and EDeviceKey are the holder's side of the engagement:
	// the advertised structure and the ephemeral private key behind it.
	Engagement *engagement.DeviceEngagement
	EDeviceKey *ecdh.PrivateKey

	// Handover is the engagement-specific handover structure; nil means QR
	// (CBOR null in the transcript).
	Handover []byte

	// UseDeviceMac authenticates response documents with an ECDH-derived MAC
	// instead of a device signature.
	UseDeviceMac bool

	// AllowMultipleRounds keeps the session open after a response instead of
	// attaching the termination status.
	AllowMultipleRounds bool
}

// Disclosure records one credential released during an engagement, so the
// owner can append usage counts after the session ends.
type Disclosure struct {
	CredentialID string
	DocType      domain.DocType
}

// Result is the engine's single terminal report.
type Result struct {
	Rounds    int
	Disclosed []Disclosure
	Err       error
}

// Engine drives one engagement as a single sequential task: wait for the
// transport, receive a request, consult selection and consent, respond. It
// suspends only on transport connection, inbound messages, and the consent
// collaborator.
type Engine struct {
	cfg Config

	mu    sync.Mutex
	state State
	ran   bool

	cancelOnce sync.Once
	cancelled  chan struct{}
}

// New validates cfg and returns an engine in AwaitConnection.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Transport == nil:
		return nil, errors.New("presentment: nil transport")
	case cfg.Keys == nil:
		return nil, errors.New("presentment: nil secure area")
	case cfg.Selector == nil:
		return nil, errors.New("presentment: nil selector")
	case cfg.Consent == nil:
		return nil, errors.New("presentment: nil consent handler")
	case cfg.Engagement == nil:
		return nil, errors.New("presentment: nil engagement")
	case cfg.EDeviceKey == nil:
		return nil, errors.New("presentment: nil ephemeral device key")
	}
	return &Engine{cfg: cfg, state: StateAwaitConnection, cancelled: make(chan struct{})}, nil
}

// State reports the engine lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Cancel aborts the engagement. Safe to call any number of times, before or
// during Run.
func (e *Engine) Cancel() {
	e.cancelOnce.Do(func() { close(e.cancelled) })
}

// Run drives the engagement to completion and reports the result exactly
// once; a second call returns ErrAlreadyRun without touching the transport.
func (e *Engine) Run(ctx context.Context) Result {
	e.mu.Lock()
	if e.ran {
		e.mu.Unlock()
		return Result{Err: ErrAlreadyRun}
	}
	e.ran = true
	e.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-e.cancelled:
			cancel()
		case <-ctx.Done():
		}
	}()

	res := e.run(ctx)
	if res.Err != nil && !e.wasCancelled() {
		e.setState(StateFailed)
	} else {
		// User cancellation is a normal end, not a failure.
		if e.wasCancelled() {
			res.Err = nil
		}
		e.setState(StateTerminated)
	}
	e.signalEnd()
	_ = e.cfg.Transport.Close()
	return res
}

// signalEnd tells the peer the session is over while the link is still up.
// The engagement context may already be cancelled, so the write gets its own
// deadline.
func (e *Engine) signalEnd() {
	if e.cfg.Transport.State() != domain.TransportConnected {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = e.cfg.Transport.SignalState(ctx, ble.StateEnd)
}

func (e *Engine) run(ctx context.Context) Result {
	var res Result
	var enc *session.Encryptor
	var transcript session.Transcript
	var readerKey *ecdh.PublicKey
	defer func() {
		if enc != nil {
			enc.Close()
		}
	}()

	for {
		e.setState(StateAwaitConnection)
		if e.cfg.Transport.State() != domain.TransportConnected {
			if err := e.cfg.Transport.Connect(ctx); err != nil {
				res.Err = err
				return res
			}
		}
		e.setState(StateActive)

		msg, err := e.cfg.Transport.ReceiveMessage(ctx)
		if err != nil {
			res.Err = err
			return res
		}
		if len(msg) == 0 {
			// Peer closed the link: normal termination.
			return res
		}

		if enc == nil {
			peer, ekInner, err := session.PeerKeyFromEstablishment(msg)
			if err != nil {
				res.Err = err
				return res
			}
			transcript, err = session.NewTranscript(e.cfg.Engagement.Encode(), ekInner, e.cfg.Handover)
			if err != nil {
				res.Err = err
				return res
			}
			enc, err = session.New(session.RoleHolder, e.cfg.EDeviceKey, peer, transcript)
			if err != nil {
				res.Err = err
				return res
			}
			readerKey = peer
		}

		plaintext, status, err := enc.Decrypt(msg)
		if err != nil {
			e.sendStatusOnly(ctx, domain.KindOf(err))
			res.Err = err
			return res
		}
		if status != nil && *status == session.StatusTermination {
			return res
		}
		if plaintext == nil {
			// Status-only frame that is not a termination: nothing to answer.
			continue
		}

		docReqs, err := request.Parse(plaintext)
		if err != nil {
			// Answer a malformed request with an empty error response, then
			// end the session.
			if payload, gerr := response.NewGenerator().Generate(response.StatusCBORDecodingError); gerr == nil {
				term := session.StatusTermination
				if frame, eerr := enc.Encrypt(payload, &term); eerr == nil {
					_ = e.cfg.Transport.SendMessage(ctx, frame)
				}
			}
			res.Err = err
			return res
		}

		payload, disclosed, err := e.respond(ctx, docReqs, transcript, readerKey)
		if err != nil {
			res.Err = err
			return res
		}
		var term *uint64
		if !e.cfg.AllowMultipleRounds {
			s := session.StatusTermination
			term = &s
		}
		frame, err := enc.Encrypt(payload, term)
		if err != nil {
			res.Err = err
			return res
		}
		if err := e.cfg.Transport.SendMessage(ctx, frame); err != nil {
			res.Err = err
			return res
		}
		res.Rounds++
		res.Disclosed = append(res.Disclosed, disclosed...)
		e.setState(StateRoundComplete)

		// Run signals StateEnd once the engagement winds down, covering
		// this exit and every abnormal one alike.
		if !e.cfg.AllowMultipleRounds {
			return res
		}
	}
}

// respond builds the encrypted-response plaintext for one round. Requests
// nothing matches, or the user declines, are omitted rather than failed.
func (e *Engine) respond(
	ctx context.Context,
	docReqs []request.DocRequest,
	transcript session.Transcript,
	readerKey *ecdh.PublicKey,
) ([]byte, []Disclosure, error) {
	g := response.NewGenerator()
	var disclosed []Disclosure

	for _, dr := range docReqs {
		candidates, err := e.cfg.Selector.Select(ctx, dr.DocType)
		if err != nil {
			return nil, nil, err
		}
		if len(candidates) == 0 {
			continue
		}

		authed, certs := e.verifyReaderAuth(dr, transcript)

		for _, cred := range candidates {
			ok, err := e.cfg.Consent.RequestConsent(ctx, domain.ConsentRequest{
				CredentialID:        cred.ID,
				DocType:             cred.DocType,
				Requested:           dr.Requested(),
				ReaderAuthenticated: authed,
				ReaderCertificates:  certs,
			})
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				continue
			}
			doc, err := e.buildDocument(cred, dr, transcript, readerKey)
			if errors.Is(err, errNothingToDisclose) {
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			if err := g.AddDocument(doc); err != nil {
				return nil, nil, err
			}
			disclosed = append(disclosed, Disclosure{CredentialID: cred.ID, DocType: cred.DocType})
			break
		}
	}

	payload, err := g.Generate(response.StatusOK)
	if err != nil {
		return nil, nil, err
	}
	return payload, disclosed, nil
}

// verifyReaderAuth checks the request's readerAuth against its x5chain leaf.
// Trust-store evaluation of the chain is the consent collaborator's concern;
// here only signature validity and transcript binding are established.
func (e *Engine) verifyReaderAuth(dr request.DocRequest, transcript session.Transcript) (bool, [][]byte) {
	if len(dr.ReaderAuth) == 0 {
		return false, nil
	}
	certs, err := request.ReaderCertificates(dr.ReaderAuth)
	if err != nil || len(certs) == 0 {
		return false, nil
	}
	leaf, err := x509.ParseCertificate(certs[0])
	if err != nil {
		return false, nil
	}
	pub, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return false, nil
	}
	if err := request.VerifyReaderAuth(dr, transcript, pub); err != nil {
		return false, nil
	}
	return true, certs
}

func (e *Engine) buildDocument(
	cred domain.Credential,
	dr request.DocRequest,
	transcript session.Transcript,
	readerKey *ecdh.PublicKey,
) (response.Document, error) {
	ns := make(map[domain.Namespace][]cbor.RawMessage)
	for reqNS, elems := range dr.NameSpaces {
		want := make(map[domain.ElementIdentifier]bool, len(elems))
		for id := range elems {
			want[id] = true
		}
		for _, item := range cred.Items(reqNS, want) {
			ns[reqNS] = append(ns[reqNS], item.Raw)
		}
	}
	if len(ns) == 0 {
		return response.Document{}, errNothingToDisclose
	}

	dns, err := response.EmptyDeviceNameSpaces()
	if err != nil {
		return response.Document{}, err
	}
	doc := response.Document{
		DocType:          cred.DocType,
		IssuerNameSpaces: ns,
		IssuerAuth:       cred.IssuerAuth,
		DeviceNameSpaces: dns,
	}
	if e.cfg.UseDeviceMac {
		mac, err := response.MACDeviceAuth(e.cfg.Keys, cred.KeyAlias, readerKey, transcript, cred.DocType, dns)
		if err != nil {
			return response.Document{}, err
		}
		doc.DeviceMac = mac
	} else {
		sig, err := response.SignDeviceAuth(e.cfg.Keys, cred.KeyAlias, transcript, cred.DocType, dns)
		if err != nil {
			return response.Document{}, err
		}
		doc.DeviceSignature = sig
	}
	return doc, nil
}

// sendStatusOnly reports a session-layer failure to the peer before closing.
// Status frames are plaintext, so this works even after the encryptor has
// shut itself down.
func (e *Engine) sendStatusOnly(ctx context.Context, kind domain.ErrorKind) {
	code := session.StatusErrorEncryption
	if kind == domain.KindProtocol {
		code = session.StatusErrorCBORDecoding
	}
	if frame, err := session.EncodeStatus(code); err == nil {
		_ = e.cfg.Transport.SendMessage(ctx, frame)
	}
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) wasCancelled() bool {
	select {
	case <-e.cancelled:
		return true
	default:
		return false
	}
}
