package presentment_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	mdocrypto "mdoclink/internal/crypto"
	"mdoclink/internal/domain"
	"mdoclink/internal/protocol/engagement"
	"mdoclink/internal/protocol/mso"
	"mdoclink/internal/protocol/request"
	"mdoclink/internal/protocol/response"
	"mdoclink/internal/protocol/session"
	"mdoclink/internal/securearea"
	"mdoclink/internal/services/presentment"
	"mdoclink/internal/services/provision"
	"mdoclink/internal/store"
	"mdoclink/internal/transport/ble"
)

const passphrase = "Correct-Horse-Battery-9"

// holderSetup is everything the holder side needs for one engagement.
type holderSetup struct {
	engine *presentment.Engine
	cred   domain.Credential
	de     *engagement.DeviceEngagement
}

func newHolder(t *testing.T, transport domain.Transport, consent domain.ConsentHandler, useMac bool) holderSetup {
	t.Helper()
	sa := securearea.NewEphemeral()
	st := store.NewCredentialFileStore(t.TempDir())
	svc := provision.New(st, sa)
	cred, err := svc.IssueDemo(passphrase, domain.MDLDocType, map[domain.Namespace]map[domain.ElementIdentifier]any{
		domain.MDLNamespace: {
			"given_name":  "Erika",
			"family_name": "Mustermann",
			"age_over_18": true,
		},
	}, time.Hour)
	if err != nil {
		t.Fatalf("IssueDemo: %v", err)
	}

	eDeviceKey, err := mdocrypto.GenerateP256()
	if err != nil {
		t.Fatalf("GenerateP256: %v", err)
	}
	de, err := engagement.New(eDeviceKey.PublicKey(), engagement.BLEOptions{
		CentralClient:     true,
		CentralClientUUID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("engagement.New: %v", err)
	}

	eng, err := presentment.New(presentment.Config{
		Transport:    transport,
		Keys:         sa,
		Selector:     presentment.StoreSelector{Store: st, Passphrase: passphrase},
		Consent:      consent,
		Engagement:   de,
		EDeviceKey:   eDeviceKey,
		UseDeviceMac: useMac,
	})
	if err != nil {
		t.Fatalf("presentment.New: %v", err)
	}
	return holderSetup{engine: eng, cred: cred, de: de}
}

// readerSession performs the verifier's half of session establishment
// against a published engagement.
func readerSession(t *testing.T, ch *ble.Channel, de *engagement.DeviceEngagement) (*session.Encryptor, session.Transcript) {
	t.Helper()
	eng, err := engagement.Parse(de.Encode())
	if err != nil {
		t.Fatalf("engagement.Parse: %v", err)
	}
	deviceKey, err := eng.EDeviceKey()
	if err != nil {
		t.Fatalf("EDeviceKey: %v", err)
	}
	eph, err := mdocrypto.GenerateP256()
	if err != nil {
		t.Fatalf("GenerateP256: %v", err)
	}
	ek, err := mdocrypto.MarshalCOSEKey(eph.PublicKey())
	if err != nil {
		t.Fatalf("MarshalCOSEKey: %v", err)
	}
	transcript, err := session.NewTranscript(eng.Encode(), ek, nil)
	if err != nil {
		t.Fatalf("NewTranscript: %v", err)
	}
	enc, err := session.New(session.RoleReader, eph, deviceKey, transcript)
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return enc, transcript
}

func TestEngine_FullPresentment(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type readerOutcome struct {
		parsed response.Parsed
		status *uint64
		err    error
	}
	outcome := make(chan readerOutcome, 1)
	go func() {
		var out readerOutcome
		defer func() { outcome <- out }()

		if out.err = readerCh.Connect(ctx); out.err != nil {
			return
		}
		enc, transcript := readerSession(t, readerCh, h.de)

		b := request.NewBuilder(transcript)
		if out.err = b.AddItemsRequest(domain.MDLDocType, map[domain.Namespace]map[domain.ElementIdentifier]bool{
			domain.MDLNamespace: {"given_name": true, "age_over_18": true},
		}, nil, nil); out.err != nil {
			return
		}
		reqBytes, err := b.Encode()
		if err != nil {
			out.err = err
			return
		}
		frame, err := enc.Encrypt(reqBytes, nil)
		if err != nil {
			out.err = err
			return
		}
		if out.err = readerCh.SendMessage(ctx, frame); out.err != nil {
			return
		}

		respFrame, err := readerCh.ReceiveMessage(ctx)
		if err != nil {
			out.err = err
			return
		}
		plaintext, status, err := enc.Decrypt(respFrame)
		if err != nil {
			out.err = err
			return
		}
		out.status = status
		out.parsed, out.err = response.Parse(plaintext)
	}()

	res := h.engine.Run(ctx)
	if res.Err != nil {
		t.Fatalf("engine: %v", res.Err)
	}
	if res.Rounds != 1 || len(res.Disclosed) != 1 || res.Disclosed[0].CredentialID != h.cred.ID {
		t.Fatalf("result = %+v", res)
	}
	if h.engine.State() != presentment.StateTerminated {
		t.Fatalf("state = %s", h.engine.State())
	}

	out := <-outcome
	if out.err != nil {
		t.Fatalf("reader: %v", out.err)
	}
	if out.status == nil || *out.status != session.StatusTermination {
		t.Fatalf("status = %v, want termination", out.status)
	}
	if len(out.parsed.Documents) != 1 {
		t.Fatalf("documents = %d", len(out.parsed.Documents))
	}
	doc := out.parsed.Documents[0]
	if doc.DocType != domain.MDLDocType {
		t.Fatalf("docType = %q", doc.DocType)
	}
	// Only the two requested elements, not all three issued.
	if n := len(doc.IssuerNameSpaces[domain.MDLNamespace]); n != 2 {
		t.Fatalf("disclosed items = %d, want 2", n)
	}

	// Reader-side verification: digests plus device signature.
	m, err := mso.Parse(doc.IssuerAuth)
	if err != nil {
		t.Fatalf("mso.Parse: %v", err)
	}
	for _, raw := range doc.IssuerNameSpaces[domain.MDLNamespace] {
		item, ok := matchItem(h.cred, raw)
		if !ok {
			t.Fatal("response carries an item the credential never held")
		}
		if err := m.CheckItemDigest(domain.MDLNamespace, item); err != nil {
			t.Fatalf("CheckItemDigest: %v", err)
		}
	}
	if doc.DeviceSignature == nil {
		t.Fatal("expected a device signature")
	}
}

func matchItem(cred domain.Credential, raw []byte) (domain.IssuerSignedItem, bool) {
	for _, item := range cred.NameSpaces[domain.MDLNamespace] {
		if string(item.Raw) == string(raw) {
			return item, true
		}
	}
	return domain.IssuerSignedItem{}, false
}

func TestEngine_DeclinedConsentYieldsEmptyResponse(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: false}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := readerCh.Connect(ctx); err != nil {
			done <- err
			return
		}
		enc, transcript := readerSession(t, readerCh, h.de)
		b := request.NewBuilder(transcript)
		_ = b.AddItemsRequest(domain.MDLDocType, map[domain.Namespace]map[domain.ElementIdentifier]bool{
			domain.MDLNamespace: {"given_name": true},
		}, nil, nil)
		reqBytes, _ := b.Encode()
		frame, _ := enc.Encrypt(reqBytes, nil)
		if err := readerCh.SendMessage(ctx, frame); err != nil {
			done <- err
			return
		}
		respFrame, err := readerCh.ReceiveMessage(ctx)
		if err != nil {
			done <- err
			return
		}
		plaintext, _, err := enc.Decrypt(respFrame)
		if err != nil {
			done <- err
			return
		}
		parsed, err := response.Parse(plaintext)
		if err != nil {
			done <- err
			return
		}
		if parsed.Status != response.StatusOK || len(parsed.Documents) != 0 {
			t.Errorf("want empty OK response, got %+v", parsed)
		}
		done <- nil
	}()

	res := h.engine.Run(ctx)
	if res.Err != nil {
		t.Fatalf("engine: %v", res.Err)
	}
	if len(res.Disclosed) != 0 {
		t.Fatalf("disclosed = %+v", res.Disclosed)
	}
	if err := <-done; err != nil {
		t.Fatalf("reader: %v", err)
	}
}

func TestEngine_MacVariant(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(128)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := readerCh.Connect(ctx); err != nil {
			done <- err
			return
		}
		enc, transcript := readerSession(t, readerCh, h.de)
		b := request.NewBuilder(transcript)
		_ = b.AddItemsRequest(domain.MDLDocType, map[domain.Namespace]map[domain.ElementIdentifier]bool{
			domain.MDLNamespace: {"age_over_18": true},
		}, nil, nil)
		reqBytes, _ := b.Encode()
		frame, _ := enc.Encrypt(reqBytes, nil)
		if err := readerCh.SendMessage(ctx, frame); err != nil {
			done <- err
			return
		}
		respFrame, err := readerCh.ReceiveMessage(ctx)
		if err != nil {
			done <- err
			return
		}
		plaintext, _, err := enc.Decrypt(respFrame)
		if err != nil {
			done <- err
			return
		}
		parsed, err := response.Parse(plaintext)
		if err != nil {
			done <- err
			return
		}
		if len(parsed.Documents) != 1 || parsed.Documents[0].DeviceMac == nil {
			t.Errorf("want one MAC-authenticated document, got %+v", parsed)
		}
		done <- nil
	}()

	res := h.engine.Run(ctx)
	if res.Err != nil {
		t.Fatalf("engine: %v", res.Err)
	}
	if err := <-done; err != nil {
		t.Fatalf("reader: %v", err)
	}
}

func TestEngine_UnmatchedDocTypeYieldsEmptyResponse(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		if err := readerCh.Connect(ctx); err != nil {
			done <- err
			return
		}
		enc, transcript := readerSession(t, readerCh, h.de)
		b := request.NewBuilder(transcript)
		// No stored credential carries this docType.
		_ = b.AddItemsRequest("com.example.unknown", map[domain.Namespace]map[domain.ElementIdentifier]bool{
			"com.example.unknown.1": {"serial": true},
		}, nil, nil)
		reqBytes, _ := b.Encode()
		frame, _ := enc.Encrypt(reqBytes, nil)
		if err := readerCh.SendMessage(ctx, frame); err != nil {
			done <- err
			return
		}
		respFrame, err := readerCh.ReceiveMessage(ctx)
		if err != nil {
			done <- err
			return
		}
		plaintext, _, err := enc.Decrypt(respFrame)
		if err != nil {
			done <- err
			return
		}
		parsed, err := response.Parse(plaintext)
		if err != nil {
			done <- err
			return
		}
		if parsed.Status != response.StatusOK || len(parsed.Documents) != 0 {
			t.Errorf("want empty OK response, got %+v", parsed)
		}
		done <- nil
	}()

	res := h.engine.Run(ctx)
	if res.Err != nil {
		t.Fatalf("engine: %v", res.Err)
	}
	if res.Rounds != 1 || len(res.Disclosed) != 0 {
		t.Fatalf("rounds=%d disclosed=%+v", res.Rounds, res.Disclosed)
	}
	if err := <-done; err != nil {
		t.Fatalf("reader: %v", err)
	}
}

func TestEngine_PeerDisconnectEndsNormally(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// The peer attaches and walks away without ever sending a request.
	go func() {
		if err := readerCh.Connect(ctx); err != nil {
			return
		}
		_ = readerCh.Close()
	}()

	res := h.engine.Run(ctx)
	if res.Err != nil {
		t.Fatalf("engine: %v", res.Err)
	}
	if res.Rounds != 0 || h.engine.State() != presentment.StateTerminated {
		t.Fatalf("rounds=%d state=%s", res.Rounds, h.engine.State())
	}
}

func TestEngine_MalformedRequestReportsDecodingStatus(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	statuses := make(chan *uint64, 1)
	go func() {
		defer close(statuses)
		if err := readerCh.Connect(ctx); err != nil {
			return
		}
		enc, _ := readerSession(t, readerCh, h.de)
		// Establishment frame carrying the key but neither data nor status.
		frame, err := enc.Encrypt(nil, nil)
		if err != nil {
			return
		}
		if err := readerCh.SendMessage(ctx, frame); err != nil {
			return
		}
		raw, err := readerCh.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		_, status, err := enc.Decrypt(raw)
		if err != nil {
			return
		}
		statuses <- status
	}()

	res := h.engine.Run(ctx)
	if res.Err == nil {
		t.Fatal("engine accepted a payload-free session frame")
	}
	if h.engine.State() != presentment.StateFailed {
		t.Fatalf("state = %s", h.engine.State())
	}
	status, ok := <-statuses
	if !ok || status == nil {
		t.Fatal("no status frame reached the peer")
	}
	if *status != session.StatusErrorCBORDecoding {
		t.Fatalf("status = %d, want %d", *status, session.StatusErrorCBORDecoding)
	}
}

func TestEngine_CancelSignalsSessionEnd(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh := ble.NewChannel(ca, false)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make(chan presentment.Result, 1)
	go func() { results <- h.engine.Run(ctx) }()

	// Attach as a bare peer and send nothing, leaving the engine suspended
	// in ReceiveMessage on a connected link.
	if err := cb.Open(ctx); err != nil {
		t.Fatalf("peer open: %v", err)
	}
	if err := cb.WriteState(ctx, ble.StateStart); err != nil {
		t.Fatalf("peer start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	h.engine.Cancel()

	res := <-results
	if res.Err != nil {
		t.Fatalf("cancelled run: %v", res.Err)
	}
	if h.engine.State() != presentment.StateTerminated {
		t.Fatalf("state = %s", h.engine.State())
	}
	// The peer must see session termination on the state channel before the
	// link is torn down.
	select {
	case code, ok := <-cb.States():
		if !ok || code != ble.StateEnd {
			t.Fatalf("state byte = %#x (ok=%v), want StateEnd", code, ok)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation sent no session-end signal")
	}
}

func TestEngine_PeerTerminationStatus(t *testing.T) {
	ca, cb := ble.NewLoopbackPair(64)
	holderCh, readerCh := ble.NewChannel(ca, false), ble.NewChannel(cb, true)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	go func() {
		if err := readerCh.Connect(ctx); err != nil {
			return
		}
		enc, _ := readerSession(t, readerCh, h.de)
		term := session.StatusTermination
		// Establishment frame carrying only the key and a termination status.
		frame, err := enc.Encrypt(nil, &term)
		if err != nil {
			return
		}
		_ = readerCh.SendMessage(ctx, frame)
	}()

	res := h.engine.Run(ctx)
	if res.Err != nil {
		t.Fatalf("engine: %v", res.Err)
	}
	if res.Rounds != 0 || h.engine.State() != presentment.StateTerminated {
		t.Fatalf("rounds=%d state=%s", res.Rounds, h.engine.State())
	}
}

func TestEngine_CancelIsIdempotent(t *testing.T) {
	ca, _ := ble.NewLoopbackPair(64)
	holderCh := ble.NewChannel(ca, false)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)

	h.engine.Cancel()
	h.engine.Cancel() // second cancel is a no-op

	res := h.engine.Run(context.Background())
	if res.Err != nil {
		t.Fatalf("cancelled run: %v", res.Err)
	}
	if h.engine.State() != presentment.StateTerminated {
		t.Fatalf("state = %s", h.engine.State())
	}
}

func TestEngine_RunTwice(t *testing.T) {
	ca, _ := ble.NewLoopbackPair(64)
	holderCh := ble.NewChannel(ca, false)
	h := newHolder(t, holderCh, presentment.StaticConsent{Grant: true}, false)
	h.engine.Cancel()
	_ = h.engine.Run(context.Background())

	res := h.engine.Run(context.Background())
	if res.Err != presentment.ErrAlreadyRun {
		t.Fatalf("second run: %v", res.Err)
	}
}
