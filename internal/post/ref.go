package post

// RefKind tags the variant held by a Ref.
type RefKind uint8

const (
	RefNone RefKind = iota
	// RefByID points at a stored post by its numeric id.
	RefByID
	// RefByAID points at a post of the same platform by its external id.
	RefByAID
	// RefEmbed holds the referenced post itself.
	RefEmbed
)

// Ref is the quote/repost link of a post.
type Ref struct {
	kind RefKind
	id   int64
	aid  string
	post *Post
}

func RefID(id int64) Ref {
	if id <= 0 {
		return Ref{}
	}
	return Ref{kind: RefByID, id: id}
}

func RefAID(aid string) Ref {
	if aid == "" {
		return Ref{}
	}
	return Ref{kind: RefByAID, aid: aid}
}

func RefEmbedded(p *Post) Ref {
	if p == nil {
		return Ref{}
	}
	return Ref{kind: RefEmbed, post: p}
}

func (r Ref) Kind() RefKind { return r.kind }

// ID returns the numeric id for RefByID, or the embedded post's id.
func (r Ref) ID() (int64, bool) {
	switch r.kind {
	case RefByID:
		return r.id, true
	case RefEmbed:
		if r.post.ID > 0 {
			return r.post.ID, true
		}
	}
	return 0, false
}

func (r Ref) AID() (string, bool) {
	if r.kind == RefByAID {
		return r.aid, true
	}
	return "", false
}

// Embedded returns the referenced post if it is held inline.
func (r Ref) Embedded() *Post {
	if r.kind == RefEmbed {
		return r.post
	}
	return nil
}

func (r Ref) IsZero() bool { return r.kind == RefNone }
