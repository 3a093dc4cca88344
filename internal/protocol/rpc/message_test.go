package rpc

import (
	"testing"

	"github.com/marmos91/nfs3gw/internal/protocol/xdr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

func validSysCredentials() *CredentialsSys {
	return &CredentialsSys{
		Stamp:       12345,
		MachineName: "testhost",
		UID:         1000,
		GID:         1000,
		AuxGIDs:     []uint32{4, 24, 27, 30},
	}
}

func encodeCall(t *testing.T, call *Call, args []byte) []byte {
	t.Helper()
	w := xdr.NewWriter(0)
	require.NoError(t, call.Write(w))
	_, _ = w.Write(args)
	return w.Bytes()
}

// ============================================================================
// Credentials Tests
// ============================================================================

func TestCredentials(t *testing.T) {
	t.Run("SysRoundTrip", func(t *testing.T) {
		w := xdr.NewWriter(0)
		validSysCredentials().write(w)

		creds, err := ReadCredentials(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		sys, ok := creds.(*CredentialsSys)
		require.True(t, ok)
		assert.Equal(t, validSysCredentials(), sys)
	})

	t.Run("SysWithMaximumGroups", func(t *testing.T) {
		in := validSysCredentials()
		in.AuxGIDs = make([]uint32, MaxAuxGIDs)
		for i := range in.AuxGIDs {
			in.AuxGIDs[i] = uint32(i + 1000)
		}
		w := xdr.NewWriter(0)
		in.write(w)

		creds, err := ReadCredentials(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Len(t, creds.(*CredentialsSys).AuxGIDs, MaxAuxGIDs)
	})

	t.Run("SysEmptyMachineName", func(t *testing.T) {
		in := validSysCredentials()
		in.MachineName = ""
		in.AuxGIDs = []uint32{}
		w := xdr.NewWriter(0)
		in.write(w)

		creds, err := ReadCredentials(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, in, creds)
	})

	t.Run("RejectsExcessiveGroups", func(t *testing.T) {
		body := xdr.NewWriter(0)
		body.WriteUint32(1)
		body.WriteString("host")
		body.WriteUint32(0)
		body.WriteUint32(0)
		body.WriteUint32(17)

		_, err := ParseSysCredentials(body.Bytes())
		require.ErrorIs(t, err, xdr.ErrMalformed)
		assert.Contains(t, err.Error(), "too many gids")
	})

	t.Run("RejectsLongMachineName", func(t *testing.T) {
		body := xdr.NewWriter(0)
		body.WriteUint32(1)
		body.WriteUint32(256)

		_, err := ParseSysCredentials(body.Bytes())
		assert.ErrorIs(t, err, xdr.ErrMalformed)
	})

	t.Run("RejectsEmptyBody", func(t *testing.T) {
		_, err := ParseSysCredentials(nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty")
	})

	t.Run("GSSBodyPreserved", func(t *testing.T) {
		w := xdr.NewWriter(0)
		(&CredentialsGSS{Body: []byte{1, 2, 3, 4, 5}}).write(w)

		creds, err := ReadCredentials(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, uint32(AuthGSS), creds.Flavor())
		assert.Equal(t, []byte{1, 2, 3, 4, 5}, creds.(*CredentialsGSS).Body)
	})

	t.Run("None", func(t *testing.T) {
		w := xdr.NewWriter(0)
		CredentialsNone{}.write(w)

		creds, err := ReadCredentials(xdr.NewReader(w.Bytes()))
		require.NoError(t, err)
		assert.Equal(t, CredentialsNone{}, creds)
	})

	t.Run("UnsupportedFlavor", func(t *testing.T) {
		w := xdr.NewWriter(0)
		writeOpaqueAuth(w, OpaqueAuth{Flavor: AuthDH, Body: []byte{0, 0, 0, 1}})

		_, err := ReadCredentials(xdr.NewReader(w.Bytes()))
		assert.ErrorIs(t, err, ErrUnsupportedFlavor)
	})

	t.Run("StringFormat", func(t *testing.T) {
		str := validSysCredentials().String()
		assert.Contains(t, str, "testhost")
		assert.Contains(t, str, "[4 24 27 30]")
	})
}

// ============================================================================
// Call Tests
// ============================================================================

func TestCall(t *testing.T) {
	t.Run("RoundTripPositionsAtArgs", func(t *testing.T) {
		in := &Call{
			XID:         0xdeadbeef,
			Program:     ProgramNFS,
			Version:     3,
			Procedure:   1,
			Credentials: validSysCredentials(),
			Verifier:    VerifierNone,
		}
		msg := encodeCall(t, in, []byte{9, 9, 9, 9})

		r := xdr.NewReader(msg)
		call, err := ReadCall(r)
		require.NoError(t, err)
		assert.Equal(t, uint32(0xdeadbeef), call.XID)
		assert.Equal(t, uint32(RPCVersion), call.RPCVersion)
		assert.Equal(t, uint32(ProgramNFS), call.Program)
		assert.Equal(t, uint32(3), call.Version)
		assert.Equal(t, uint32(1), call.Procedure)
		assert.Equal(t, uint32(AuthSys), call.Flavor())
		require.NotNil(t, call.Sys())
		assert.Equal(t, uint32(1000), call.Sys().UID)
		assert.Equal(t, []byte{9, 9, 9, 9}, r.Rest())
	})

	t.Run("UnsupportedFlavorKeepsHeader", func(t *testing.T) {
		w := xdr.NewWriter(0)
		require.NoError(t, w.Encode(&callHeader{XID: 7, MsgType: MsgCall, RPCVersion: 2, Program: ProgramNFS, Version: 3, Procedure: 1}))
		writeOpaqueAuth(w, OpaqueAuth{Flavor: AuthShort})
		writeOpaqueAuth(w, VerifierNone)

		call, err := ReadCall(xdr.NewReader(w.Bytes()))
		require.ErrorIs(t, err, ErrUnsupportedFlavor)
		require.NotNil(t, call)
		assert.Equal(t, uint32(7), call.XID)
	})

	t.Run("RejectsReplyMessage", func(t *testing.T) {
		_, err := ReadCall(xdr.NewReader(SuccessReply(1, nil)))
		assert.ErrorIs(t, err, xdr.ErrMalformed)
	})

	t.Run("RejectsTruncatedHeader", func(t *testing.T) {
		_, err := ReadCall(xdr.NewReader([]byte{0, 0, 0, 1, 0, 0, 0, 0}))
		assert.ErrorIs(t, err, xdr.ErrMalformed)
	})
}

// ============================================================================
// Reply Tests
// ============================================================================

func TestReplies(t *testing.T) {
	t.Run("SuccessCarriesResults", func(t *testing.T) {
		r := xdr.NewReader(SuccessReply(42, []byte{0, 0, 0, 1}))
		reply, err := ReadReply(r)
		require.NoError(t, err)
		assert.Equal(t, uint32(42), reply.XID)
		assert.True(t, reply.Accepted)
		assert.NoError(t, reply.Err())
		assert.Equal(t, []byte{0, 0, 0, 1}, r.Rest())
	})

	t.Run("SuccessWireLayout", func(t *testing.T) {
		assert.Equal(t, []byte{
			0, 0, 0, 5, // xid
			0, 0, 0, 1, // REPLY
			0, 0, 0, 0, // MSG_ACCEPTED
			0, 0, 0, 0, 0, 0, 0, 0, // AUTH_NONE verifier
			0, 0, 0, 0, // SUCCESS
		}, SuccessReply(5, nil))
	})

	t.Run("ProgMismatchCarriesRange", func(t *testing.T) {
		reply, err := ReadReply(xdr.NewReader(ProgMismatchReply(1, 3, 3)))
		require.NoError(t, err)
		assert.Equal(t, uint32(ProgMismatch), reply.AcceptStat)
		assert.Equal(t, uint32(3), reply.Low)
		assert.Equal(t, uint32(3), reply.High)
		assert.Error(t, reply.Err())
	})

	t.Run("ErrorReplyStatus", func(t *testing.T) {
		reply, err := ReadReply(xdr.NewReader(ErrorReply(1, ProcUnavail)))
		require.NoError(t, err)
		var acceptErr *AcceptError
		require.ErrorAs(t, reply.Err(), &acceptErr)
		assert.Equal(t, uint32(ProcUnavail), acceptErr.Stat)
		assert.Contains(t, acceptErr.Error(), "PROC_UNAVAIL")
	})

	t.Run("AuthError", func(t *testing.T) {
		reply, err := ReadReply(xdr.NewReader(AuthErrorReply(9, AuthTooWeak)))
		require.NoError(t, err)
		assert.False(t, reply.Accepted)
		assert.Equal(t, uint32(AuthError), reply.RejectStat)
		assert.Equal(t, uint32(AuthTooWeak), reply.AuthStat)
	})

	t.Run("RPCMismatch", func(t *testing.T) {
		reply, err := ReadReply(xdr.NewReader(RPCMismatchReply(9)))
		require.NoError(t, err)
		assert.Equal(t, uint32(RPCMismatch), reply.RejectStat)
		assert.Equal(t, uint32(2), reply.Low)
		assert.Equal(t, uint32(2), reply.High)
	})
}

// ============================================================================
// XIDGenerator Tests
// ============================================================================

func TestXIDGenerator(t *testing.T) {
	t.Run("AdvancesPerCaller", func(t *testing.T) {
		g := NewXIDGenerator()
		a := g.Next("portmap")
		b := g.Next("portmap")
		assert.Equal(t, a+1, b)
	})

	t.Run("CallersDiffer", func(t *testing.T) {
		g := NewXIDGenerator()
		a := g.Next("nfs")
		b := g.Next("mountd")
		assert.NotEqual(t, a+1, b)
	})
}
