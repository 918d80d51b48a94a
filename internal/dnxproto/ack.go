package dnxproto

// ByteReader is the minimal read contract the decoder needs from a
// transport. Read blocks for exactly n bytes. Peek is a best-effort,
// short-window lookahead used only to resolve the one genuine prefix
// collision in the token table (RUPH is a complete 4-byte token and also
// the 4-byte prefix of RUPHS); it reports ok=false rather than blocking
// when no further bytes are immediately forthcoming. Unread pushes bytes a
// failed Peek consumed back to the front of the stream so they are not
// lost to the next decode call.
type ByteReader interface {
	Read(n int) ([]byte, error)
	Peek(n int) (data []byte, ok bool)
	Unread(b []byte)
}

// trie node: maps the next undecided byte to either a terminal AckCode or
// a deeper node. Built once from mnemonicByCode so the token table in
// tokens.go stays the single source of truth. A prefix trie avoids
// speculative reads: every byte consumed is accountable to a specific
// token instead of a guess at how long the token might turn out to be.
type trieNode struct {
	children map[byte]*trieNode
	code     AckCode
	leaf     bool
}

func newTrieNode() *trieNode { return &trieNode{children: map[byte]*trieNode{}} }

var ackTrie = buildTrie()

func buildTrie() *trieNode {
	root := newTrieNode()
	for code, mnemonic := range mnemonicByCode {
		n := root
		for i := 0; i < len(mnemonic); i++ {
			b := mnemonic[i]
			child, ok := n.children[b]
			if !ok {
				child = newTrieNode()
				n.children[b] = child
			}
			n = child
		}
		n.leaf = true
		n.code = code
	}
	return root
}

// DecodeAck reads the minimum number of bytes needed to disambiguate one
// ACK token from r and classifies it.
//
// A 4-byte head that does not appear in the trie at all yields
// (AckUnknown, headBytes, nil) rather than an error: the caller (the state
// machine, via the session orchestrator) turns an unrecognized ACK into a
// protocol violation.
func DecodeAck(r ByteReader) (AckCode, []byte, error) {
	head, err := r.Read(4)
	if err != nil {
		return AckUnknown, nil, err
	}
	return walk(r, ackTrie, head, head)
}

// walk descends the trie one byte at a time starting from node n, which
// already matches consumed. It extends the read when required and resolves
// the RUPH/RUPHS-style ambiguity (a node that is simultaneously a complete
// token and the prefix of a longer one) via Peek+Unread.
func walk(r ByteReader, n *trieNode, consumed []byte, full []byte) (AckCode, []byte, error) {
	for _, b := range consumed {
		child, ok := n.children[b]
		if !ok {
			return AckUnknown, full, nil
		}
		n = child
	}

	switch {
	case n.leaf && len(n.children) == 0:
		// Unambiguous complete token.
		return n.code, full, nil

	case n.leaf:
		// Ambiguous: this prefix is itself a valid token AND the start of
		// a longer one. Peek rather than block — the device isn't
		// obligated to send a continuation.
		peeked, ok := r.Peek(1)
		if !ok {
			return n.code, full, nil
		}
		child, ok := n.children[peeked[0]]
		if !ok {
			r.Unread(peeked)
			return n.code, full, nil
		}
		return walk(r, child, nil, append(full, peeked...))

	default:
		// Pure prefix with no standalone meaning: the device has
		// committed to a longer token. A failure here is a protocol
		// error, not a missing optional byte.
		next, err := r.Read(1)
		if err != nil {
			return AckUnknown, full, &MalformedAckError{Partial: full, Cause: err}
		}
		child, ok := n.children[next[0]]
		if !ok {
			return AckUnknown, append(full, next...), nil
		}
		return walk(r, child, nil, append(full, next...))
	}
}

// MalformedAckError reports bytes that could not be decoded into any
// canonical ACK token because the device committed to a longer token and
// failed to deliver it.
type MalformedAckError struct {
	Partial []byte
	Cause   error
}

func (e *MalformedAckError) Error() string {
	return "dnxproto: malformed ack " + hexString(e.Partial) + ": " + e.Cause.Error()
}

func (e *MalformedAckError) Unwrap() error { return e.Cause }

func hexString(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 2*len(b))
	for i, c := range b {
		out[2*i] = hexdigits[c>>4]
		out[2*i+1] = hexdigits[c&0xF]
	}
	return string(out)
}
