package record

// Lexicon NSIDs of the record shapes this package decodes.
const (
	NSIDPost            = "app.bsky.feed.post"
	NSIDLike            = "app.bsky.feed.like"
	NSIDRepost          = "app.bsky.feed.repost"
	NSIDFollow          = "app.bsky.graph.follow"
	NSIDBlock           = "app.bsky.graph.block"
	NSIDList            = "app.bsky.graph.list"
	NSIDListItem        = "app.bsky.graph.listitem"
	NSIDListBlock       = "app.bsky.graph.listblock"
	NSIDStarterPack     = "app.bsky.graph.starterpack"
	NSIDFeedGenerator   = "app.bsky.feed.generator"
	NSIDLabelerService  = "app.bsky.labeler.service"
	NSIDProfile         = "app.bsky.actor.profile"
	NSIDPostgate        = "app.bsky.feed.postgate"
	NSIDThreadgate      = "app.bsky.feed.threadgate"
	NSIDChatDeclaration = "chat.bsky.actor.declaration"
)

// Post is the content of an app.bsky.feed.post record.
type Post struct {
	Text      string    `json:"text" cbor:"text"`
	CreatedAt string    `json:"createdAt" cbor:"createdAt"`
	Langs     []string  `json:"langs,omitempty" cbor:"langs,omitempty"`
	Reply     *ReplyRef `json:"reply,omitempty" cbor:"reply,omitempty"`
	Tags      []string  `json:"tags,omitempty" cbor:"tags,omitempty"`
	Facets    []any     `json:"facets,omitempty" cbor:"facets,omitempty"`
	Embed     any       `json:"embed,omitempty" cbor:"embed,omitempty"`
	Labels    any       `json:"labels,omitempty" cbor:"labels,omitempty"`
}

func (*Post) NSID() string { return NSIDPost }

// Like is an app.bsky.feed.like record.
type Like struct {
	Subject   StrongRef  `json:"subject" cbor:"subject"`
	CreatedAt string     `json:"createdAt" cbor:"createdAt"`
	Via       *StrongRef `json:"via,omitempty" cbor:"via,omitempty"`
}

func (*Like) NSID() string { return NSIDLike }

// Repost is an app.bsky.feed.repost record.
type Repost struct {
	Subject   StrongRef  `json:"subject" cbor:"subject"`
	CreatedAt string     `json:"createdAt" cbor:"createdAt"`
	Via       *StrongRef `json:"via,omitempty" cbor:"via,omitempty"`
}

func (*Repost) NSID() string { return NSIDRepost }

// Follow is an app.bsky.graph.follow record. Subject is a DID.
type Follow struct {
	Subject   string `json:"subject" cbor:"subject"`
	CreatedAt string `json:"createdAt" cbor:"createdAt"`
}

func (*Follow) NSID() string { return NSIDFollow }

// Block is an app.bsky.graph.block record. Subject is a DID.
type Block struct {
	Subject   string `json:"subject" cbor:"subject"`
	CreatedAt string `json:"createdAt" cbor:"createdAt"`
}

func (*Block) NSID() string { return NSIDBlock }

// List is an app.bsky.graph.list record.
type List struct {
	Purpose     string `json:"purpose" cbor:"purpose"`
	Name        string `json:"name" cbor:"name"`
	Description string `json:"description,omitempty" cbor:"description,omitempty"`
	Avatar      *Blob  `json:"avatar,omitempty" cbor:"avatar,omitempty"`
	Labels      any    `json:"labels,omitempty" cbor:"labels,omitempty"`
	CreatedAt   string `json:"createdAt" cbor:"createdAt"`
}

func (*List) NSID() string { return NSIDList }

// ListItem is an app.bsky.graph.listitem record.
type ListItem struct {
	Subject   string `json:"subject" cbor:"subject"`
	List      string `json:"list" cbor:"list"`
	CreatedAt string `json:"createdAt" cbor:"createdAt"`
}

func (*ListItem) NSID() string { return NSIDListItem }

// ListBlock is an app.bsky.graph.listblock record. Subject is a list AT-URI.
type ListBlock struct {
	Subject   string `json:"subject" cbor:"subject"`
	CreatedAt string `json:"createdAt" cbor:"createdAt"`
}

func (*ListBlock) NSID() string { return NSIDListBlock }

// StarterPackFeed is one feed recommended by a starter pack.
type StarterPackFeed struct {
	URI string `json:"uri" cbor:"uri"`
}

// StarterPack is an app.bsky.graph.starterpack record.
type StarterPack struct {
	Name        string            `json:"name" cbor:"name"`
	Description string            `json:"description,omitempty" cbor:"description,omitempty"`
	List        string            `json:"list" cbor:"list"`
	Feeds       []StarterPackFeed `json:"feeds,omitempty" cbor:"feeds,omitempty"`
	CreatedAt   string            `json:"createdAt" cbor:"createdAt"`
}

func (*StarterPack) NSID() string { return NSIDStarterPack }

// FeedGenerator is an app.bsky.feed.generator declaration.
type FeedGenerator struct {
	DID                 string `json:"did" cbor:"did"`
	DisplayName         string `json:"displayName" cbor:"displayName"`
	Description         string `json:"description,omitempty" cbor:"description,omitempty"`
	Avatar              *Blob  `json:"avatar,omitempty" cbor:"avatar,omitempty"`
	AcceptsInteractions bool   `json:"acceptsInteractions,omitempty" cbor:"acceptsInteractions,omitempty"`
	ContentMode         string `json:"contentMode,omitempty" cbor:"contentMode,omitempty"`
	CreatedAt           string `json:"createdAt" cbor:"createdAt"`
}

func (*FeedGenerator) NSID() string { return NSIDFeedGenerator }

// LabelerPolicies lists the label values a labeler emits.
type LabelerPolicies struct {
	LabelValues           []string `json:"labelValues" cbor:"labelValues"`
	LabelValueDefinitions []any    `json:"labelValueDefinitions,omitempty" cbor:"labelValueDefinitions,omitempty"`
}

// LabelerService is an app.bsky.labeler.service declaration.
type LabelerService struct {
	Policies  LabelerPolicies `json:"policies" cbor:"policies"`
	Labels    any             `json:"labels,omitempty" cbor:"labels,omitempty"`
	CreatedAt string          `json:"createdAt" cbor:"createdAt"`
}

func (*LabelerService) NSID() string { return NSIDLabelerService }

// Profile is an app.bsky.actor.profile record.
type Profile struct {
	DisplayName string     `json:"displayName,omitempty" cbor:"displayName,omitempty"`
	Description string     `json:"description,omitempty" cbor:"description,omitempty"`
	Avatar      *Blob      `json:"avatar,omitempty" cbor:"avatar,omitempty"`
	Banner      *Blob      `json:"banner,omitempty" cbor:"banner,omitempty"`
	PinnedPost  *StrongRef `json:"pinnedPost,omitempty" cbor:"pinnedPost,omitempty"`
	Labels      any        `json:"labels,omitempty" cbor:"labels,omitempty"`
	CreatedAt   string     `json:"createdAt,omitempty" cbor:"createdAt,omitempty"`
}

func (*Profile) NSID() string { return NSIDProfile }

// Postgate is an app.bsky.feed.postgate record.
type Postgate struct {
	Post                  string   `json:"post" cbor:"post"`
	DetachedEmbeddingURIs []string `json:"detachedEmbeddingUris,omitempty" cbor:"detachedEmbeddingUris,omitempty"`
	EmbeddingRules        []any    `json:"embeddingRules,omitempty" cbor:"embeddingRules,omitempty"`
	CreatedAt             string   `json:"createdAt" cbor:"createdAt"`
}

func (*Postgate) NSID() string { return NSIDPostgate }

// Threadgate is an app.bsky.feed.threadgate record.
type Threadgate struct {
	Post          string   `json:"post" cbor:"post"`
	Allow         []any    `json:"allow,omitempty" cbor:"allow,omitempty"`
	HiddenReplies []string `json:"hiddenReplies,omitempty" cbor:"hiddenReplies,omitempty"`
	CreatedAt     string   `json:"createdAt" cbor:"createdAt"`
}

func (*Threadgate) NSID() string { return NSIDThreadgate }

// ChatDeclaration is a chat.bsky.actor.declaration record.
type ChatDeclaration struct {
	AllowIncoming string `json:"allowIncoming" cbor:"allowIncoming"`
}

func (*ChatDeclaration) NSID() string { return NSIDChatDeclaration }

var constructors = map[string]func() Record{
	NSIDPost:            func() Record { return new(Post) },
	NSIDLike:            func() Record { return new(Like) },
	NSIDRepost:          func() Record { return new(Repost) },
	NSIDFollow:          func() Record { return new(Follow) },
	NSIDBlock:           func() Record { return new(Block) },
	NSIDList:            func() Record { return new(List) },
	NSIDListItem:        func() Record { return new(ListItem) },
	NSIDListBlock:       func() Record { return new(ListBlock) },
	NSIDStarterPack:     func() Record { return new(StarterPack) },
	NSIDFeedGenerator:   func() Record { return new(FeedGenerator) },
	NSIDLabelerService:  func() Record { return new(LabelerService) },
	NSIDProfile:         func() Record { return new(Profile) },
	NSIDPostgate:        func() Record { return new(Postgate) },
	NSIDThreadgate:      func() Record { return new(Threadgate) },
	NSIDChatDeclaration: func() Record { return new(ChatDeclaration) },
}
