package stateapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/cuemby/formation/pkg/apierr"
	"github.com/cuemby/formation/pkg/auth"
	"github.com/cuemby/formation/pkg/state"
	"github.com/cuemby/formation/pkg/types"
)

func (s *Server) registerDnsZoneRoutes() {
	s.mux.HandleFunc("GET /dns_zone/{domain}/get", s.dnsZoneGet)
	s.mux.HandleFunc("GET /dns_zone/list", s.dnsZoneList)
	s.mux.HandleFunc("POST /dns/{domain}/{build_id}/request_vanity", s.mw.Wrap(s.dnsRequestVanity))
	s.mux.HandleFunc("POST /dns/{domain}/{build_id}/request_public", s.mw.Wrap(s.dnsRequestPublic))
	s.mux.HandleFunc("POST /record/{domain}/update", s.mw.Wrap(s.recordUpdate))
	s.mux.HandleFunc("POST /record/{domain}/delete", s.mw.Wrap(s.recordDelete))
	s.mux.HandleFunc("POST /record/{domain}/initiate_verification", s.mw.Wrap(s.recordInitiateVerification))
	s.mux.HandleFunc("POST /record/{domain}/check_verification", s.recordCheckVerification)
}

func (s *Server) dnsZoneGet(w http.ResponseWriter, r *http.Request) {
	zone, err := s.store.GetDnsZone(strings.ToLower(r.PathValue("domain")))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, zone)
}

func (s *Server) dnsZoneList(w http.ResponseWriter, r *http.Request) {
	apierr.WriteSuccess(w, s.store.ListDnsZones())
}

type vanityRequest struct {
	FormnetIP []string `json:"formnet_ip"`
}

// dnsRequestVanity registers a <build_id>.<domain> zone pointing only at
// the formnet overlay address, no public exposure, TTL 60s (BootstrapTTL);
// verification does not change the TTL.
func (s *Server) dnsRequestVanity(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req vanityRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	domain := strings.ToLower(r.PathValue("build_id") + "." + r.PathValue("domain"))
	s.putZone(addr, w, r, "RequestVanityDnsRequest:"+domain, types.DnsZone{
		Domain: domain,
		RecordType: types.DnsRecordA,
		FormnetIP: req.FormnetIP,
		TTL: types.BootstrapTTL,
		VerificationStatus: types.VerificationNotVerified,
		CreatedBy: string(addr),
	})
}

type publicRequest struct {
	PublicIP []string `json:"public_ip"`
	SSLCert bool `json:"ssl_cert"`
}

// dnsRequestPublic registers a zone exposing public_ip answers, still
// unverified until the owner completes domain-ownership proof.
func (s *Server) dnsRequestPublic(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	var req publicRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	domain := strings.ToLower(r.PathValue("build_id") + "." + r.PathValue("domain"))
	s.putZone(addr, w, r, "RequestPublicDnsRequest:"+domain, types.DnsZone{
		Domain: domain,
		RecordType: types.DnsRecordA,
		PublicIP: req.PublicIP,
		SSLCert: req.SSLCert,
		TTL: types.UserTTL,
		VerificationStatus: types.VerificationNotVerified,
		CreatedBy: string(addr),
	})
}

func (s *Server) putZone(addr auth.Address, w http.ResponseWriter, r *http.Request, expectedMessage string, zone types.DnsZone) {
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, expectedMessage); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := state.PutSigned(s.store, s.store.DnsZones, "dns_zones", state.EntityDnsZone, zone.Domain, zone, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, zone)
}

type recordUpdateRequest struct {
	PublicIP []string `json:"public_ip,omitempty"`
	FormnetIP []string `json:"formnet_ip,omitempty"`
	CNAMETarget string `json:"cname_target,omitempty"`
	TTL uint32 `json:"ttl,omitempty"`
}

func (s *Server) recordUpdate(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(r.PathValue("domain"))
	zone, err := s.store.GetDnsZone(domain)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if zone.CreatedBy != string(addr) {
		apierr.WriteError(w, apierr.New(apierr.KindAuthorization, "only the creating account may update this zone"))
		return
	}
	var req recordUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if req.CNAMETarget != "" {
		// CNAME and A are mutually exclusive; treat CNAME as the narrower
		// record when both would otherwise be set.
		zone.RecordType = types.DnsRecordCNAME
		zone.CNAMETarget = req.CNAMETarget
		zone.PublicIP = nil
		zone.FormnetIP = nil
	} else {
		if req.PublicIP != nil {
			zone.PublicIP = req.PublicIP
		}
		if req.FormnetIP != nil {
			zone.FormnetIP = req.FormnetIP
		}
	}
	if req.TTL != 0 {
		zone.TTL = req.TTL
	}
	s.putZone(addr, w, r, "UpdateRecordRequest:"+domain, *zone)
}

func (s *Server) recordDelete(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(r.PathValue("domain"))
	zone, err := s.store.GetDnsZone(domain)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if zone.CreatedBy != string(addr) {
		apierr.WriteError(w, apierr.New(apierr.KindAuthorization, "only the creating account may delete this zone"))
		return
	}
	signed, err := requestSignature(r)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := requireMessagePrefix(signed, "DeleteRecordRequest:"+domain); err != nil {
		apierr.WriteError(w, err)
		return
	}
	if err := state.RmSigned(s.store, s.store.DnsZones, "dns_zones", state.EntityDnsZone, []string{domain}, addr, signed.Message, mustSig65(signed)); err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, nil)
}

// recordInitiateVerification moves a zone to Pending; actual proof checking
// (DNS TXT challenge, HTTP well-known file) is an external collaborator per
// the design, out of this core's scope.
func (s *Server) recordInitiateVerification(addr auth.Address, w http.ResponseWriter, r *http.Request) {
	domain := strings.ToLower(r.PathValue("domain"))
	zone, err := s.store.GetDnsZone(domain)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	if zone.CreatedBy != string(addr) {
		apierr.WriteError(w, apierr.New(apierr.KindAuthorization, "only the creating account may verify this zone"))
		return
	}
	if zone.VerificationStatus == types.VerificationVerified {
		apierr.WriteError(w, apierr.New(apierr.KindConflict, "zone already verified"))
		return
	}
	zone.VerificationStatus = types.VerificationPending
	zone.VerificationTimestamp = time.Now()
	s.putZone(addr, w, r, "InitiateVerificationRequest:"+domain, *zone)
}

// recordCheckVerification is a read-only status poll; it never itself
// performs the out-of-band ownership proof.
func (s *Server) recordCheckVerification(w http.ResponseWriter, r *http.Request) {
	zone, err := s.store.GetDnsZone(strings.ToLower(r.PathValue("domain")))
	if err != nil {
		apierr.WriteError(w, err)
		return
	}
	apierr.WriteSuccess(w, zone.VerificationStatus)
}
