package stateapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
)

// requestSignature re-parses the Authorization header the middleware
// already verified, so a handler can reuse its Message/signature as a CRDT
// op's own payload/signature (PutSigned/RmSigned).
func requestSignature(r *http.Request) (*auth.Signed, error) {
	return auth.ParseHeader(r.Header.Get("Authorization"))
}

// mustSig65 extracts the 65-byte R||S||V signature from an already-parsed,
// already-verified header. Verification happened upstream in Middleware.Wrap,
// so a decode failure here would indicate the header changed between parses,
// which cannot happen within a single request.
func mustSig65(signed *auth.Signed) []byte {
	sig, err := signed.Signature65()
	if err != nil {
		panic("stateapi: re-parsing an already-verified signature failed: " + err.Error())
	}
	return sig
}

// requireMessagePrefix checks that the signed message names the operation
// and resource it is being used to authorize, e.g. "DeleteVmRequest:i1:",
// so a signature collected for one endpoint/resource can't be replayed
// against another. The timestamp suffix extractTimestamp relies on follows
// the prefix, so a prefix match here never risks matching into it.
func requireMessagePrefix(signed *auth.Signed, expected string) error {
	if !strings.HasPrefix(string(signed.Message), expected+":") {
		return apierr.ErrMessageMismatch
	}
	return nil
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.Wrap(apierr.KindValidation, "malformed request body", err)
	}
	return nil
}
