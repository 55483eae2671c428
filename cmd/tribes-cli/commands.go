package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	tribesv1 "github.com/teatribe/tribes/api/tribes/v1"
	"github.com/teatribe/tribes/internal/crypto"
	"github.com/teatribe/tribes/internal/crypto/clientcrypto"
)

type app struct {
	dial       dialFunc
	passphrase string
}

// client connects, with the saved access token when authed is set.
func (a *app) client(authed bool) (*grpc.ClientConn, *tribesv1.Client, error) {
	bearer := ""
	if authed {
		tok, err := accessToken()
		if err != nil {
			return nil, nil, err
		}
		bearer = tok
	}
	cc, err := a.dial(bearer)
	if err != nil {
		return nil, nil, err
	}
	return cc, tribesv1.NewClient(cc), nil
}

func (a *app) wallet() (*ecdsa.PrivateKey, error) {
	ks, err := loadKeystore()
	if err != nil {
		return nil, err
	}
	if a.passphrase == "" {
		return nil, errors.New("need --pass or TRIBES_PASSPHRASE")
	}
	return clientcrypto.OpenKeystore([]byte(a.passphrase), ks)
}

type command func(ctx context.Context, a *app, args []string) error

var commands = map[string]command{
	"keygen":         cmdKeygen,
	"address":        cmdAddress,
	"register":       cmdRegister,
	"exists":         cmdExists,
	"login":          cmdLogin,
	"refresh":        cmdRefresh,
	"logout":         cmdLogout,
	"set-name":       cmdSetName,
	"set-device":     cmdSetDevice,
	"delete-account": cmdDeleteAccount,
	"tribes":         cmdTribes,
	"create-tribe":   cmdCreateTribe,
	"invite":         cmdInvite,
	"join":           cmdJoin,
	"leave":          cmdLeave,
	"remove":         cmdRemove,
	"rename":         cmdRename,
	"post":           cmdPost,
	"read":           cmdRead,
	"rm-msg":         cmdDeleteMessage,
	"viewed":         cmdViewed,
	"viewers":        cmdViewers,
	"react":          cmdReact,
	"tea":            cmdTea,
}

func flagSet(name string) *pflag.FlagSet { return pflag.NewFlagSet(name, pflag.ContinueOnError) }

func required(vals ...string) error {
	for i := 0; i < len(vals); i += 2 {
		if vals[i+1] == "" {
			return fmt.Errorf("need --%s", vals[i])
		}
	}
	return nil
}

// ------- wallet & session -------

func cmdKeygen(_ context.Context, a *app, _ []string) error {
	if a.passphrase == "" {
		return errors.New("need --pass or TRIBES_PASSPHRASE")
	}
	priv, err := ethcrypto.GenerateKey()
	if err != nil {
		return err
	}
	ks, err := clientcrypto.SealKeystore([]byte(a.passphrase), priv)
	if err != nil {
		return err
	}
	if err := saveKeystore(ks); err != nil {
		return err
	}
	fmt.Println(ks.Address)
	return nil
}

func cmdAddress(context.Context, *app, []string) error {
	ks, err := loadKeystore()
	if err != nil {
		return err
	}
	fmt.Println(ks.Address)
	return nil
}

func cmdRegister(ctx context.Context, a *app, args []string) error {
	fs := flagSet("register")
	name := fs.String("name", "", "full name")
	photo := fs.String("photo", "", "profile photo url")
	accept := fs.Bool("accept-terms", false, "accept the terms of service")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("name", *name); err != nil {
		return err
	}
	ks, err := loadKeystore()
	if err != nil {
		return err
	}
	cc, cli, err := a.client(false)
	if err != nil {
		return err
	}
	defer cc.Close()

	resp, err := cli.Register(ctx, &tribesv1.RegisterRequest{
		WalletAddress: ks.Address,
		FullName:      *name,
		ProfilePhoto:  *photo,
		AcceptTerms:   *accept,
	})
	if err != nil {
		return err
	}
	printJSON(resp)
	return nil
}

func cmdExists(ctx context.Context, a *app, args []string) error {
	fs := flagSet("exists")
	wallet := fs.String("wallet", "", "wallet address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *wallet == "" {
		ks, err := loadKeystore()
		if err != nil {
			return err
		}
		*wallet = ks.Address
	}
	cc, cli, err := a.client(false)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.AccountExists(ctx, &tribesv1.AccountExistsRequest{WalletAddress: *wallet})
	if err != nil {
		return err
	}
	fmt.Println(resp.Exists)
	return nil
}

// cmdLogin signs the server challenge with the wallet key and saves the session.
func cmdLogin(ctx context.Context, a *app, _ []string) error {
	priv, err := a.wallet()
	if err != nil {
		return err
	}
	cc, cli, err := a.client(false)
	if err != nil {
		return err
	}
	defer cc.Close()

	ch, err := cli.RequestAuthentication(ctx)
	if err != nil {
		return err
	}
	sig, err := clientcrypto.SignChallenge(priv, ch.Challenge)
	if err != nil {
		return err
	}
	resp, err := cli.Authenticate(ctx, &tribesv1.AuthenticateRequest{
		WalletAddress: ethcrypto.PubkeyToAddress(priv.PublicKey).Hex(),
		Signature:     sig,
		PublicKey:     clientcrypto.PublicKeyHex(priv),
	})
	if err != nil {
		return err
	}
	if err := storeSession(resp); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func storeSession(resp *tribesv1.AuthenticateResponse) error {
	return saveSession(sessionFile{
		AccountID:     resp.AccountID,
		WalletAddress: resp.WalletAddress,
		AccessToken:   resp.AccessToken,
		RefreshToken:  resp.RefreshToken,
		ExpiresAt:     resp.ExpiresAt,
	})
}

func cmdRefresh(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	cc, cli, err := a.client(false)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.RefreshToken(ctx, &tribesv1.RefreshTokenRequest{RefreshToken: s.RefreshToken})
	if err != nil {
		return err
	}
	if err := storeSession(resp); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func cmdLogout(ctx context.Context, a *app, _ []string) error {
	s, err := loadSession()
	if err != nil {
		return err
	}
	cc, cli, err := a.client(false)
	if err != nil {
		return err
	}
	defer cc.Close()
	if err := cli.RevokeToken(ctx, &tribesv1.RevokeTokenRequest{RefreshToken: s.RefreshToken}); err != nil {
		return err
	}
	return saveSession(sessionFile{})
}

// ------- account -------

func cmdSetName(ctx context.Context, a *app, args []string) error {
	fs := flagSet("set-name")
	name := fs.String("name", "", "full name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.UpdateName(ctx, &tribesv1.UpdateNameRequest{FullName: *name})
}

func cmdSetDevice(ctx context.Context, a *app, args []string) error {
	fs := flagSet("set-device")
	typ := fs.String("type", "apple", "apple or android")
	tok := fs.String("token", "", "device token (empty clears)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.UpdateDeviceToken(ctx, &tribesv1.UpdateDeviceTokenRequest{DeviceType: *typ, DeviceToken: *tok})
}

func cmdDeleteAccount(ctx context.Context, a *app, _ []string) error {
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	if err := cli.DeleteAccount(ctx); err != nil {
		return err
	}
	return saveSession(sessionFile{})
}

// ------- tribes -------

func cmdTribes(ctx context.Context, a *app, _ []string) error {
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.GetTribes(ctx)
	if err != nil {
		return err
	}
	printJSON(resp.Tribes)
	return nil
}

func cmdCreateTribe(ctx context.Context, a *app, args []string) error {
	fs := flagSet("create-tribe")
	name := fs.String("name", "", "tribe name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	t, err := cli.CreateTribe(ctx, &tribesv1.CreateTribeRequest{Name: *name})
	if err != nil {
		return err
	}
	printJSON(t)
	return nil
}

type invite struct {
	Pin  string `json:"pin"`
	Code string `json:"code"`
	Hash string `json:"-"`
}

// newInvite draws a 6-digit pin and a random code. Only their hash is sent to the server.
func newInvite() (invite, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return invite{}, err
	}
	code, err := crypto.RandomTokenHex(8)
	if err != nil {
		return invite{}, err
	}
	inv := invite{Pin: fmt.Sprintf("%06d", n.Int64()), Code: code}
	inv.Hash = crypto.HashMessage(inv.Pin + ":" + inv.Code)
	return inv, nil
}

func cmdInvite(ctx context.Context, a *app, args []string) error {
	fs := flagSet("invite")
	tribe := fs.String("tribe", "", "tribe id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	inv, err := newInvite()
	if err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	if err := cli.InviteToTribe(ctx, &tribesv1.InviteToTribeRequest{TribeID: *tribe, Code: inv.Hash}); err != nil {
		return err
	}
	printJSON(inv)
	return nil
}

func cmdJoin(ctx context.Context, a *app, args []string) error {
	fs := flagSet("join")
	pin := fs.String("pin", "", "invite pin")
	code := fs.String("code", "", "invite code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("pin", *pin, "code", *code); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	t, err := cli.JoinTribe(ctx, &tribesv1.JoinTribeRequest{Pin: *pin, Code: *code})
	if err != nil {
		return err
	}
	printJSON(t)
	return nil
}

func cmdLeave(ctx context.Context, a *app, args []string) error {
	fs := flagSet("leave")
	tribe := fs.String("tribe", "", "tribe id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.LeaveTribe(ctx, &tribesv1.LeaveTribeRequest{TribeID: *tribe})
}

func cmdRemove(ctx context.Context, a *app, args []string) error {
	fs := flagSet("remove")
	tribe := fs.String("tribe", "", "tribe id")
	wallet := fs.String("wallet", "", "member wallet address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.RemoveFromTribe(ctx, &tribesv1.RemoveFromTribeRequest{TribeID: *tribe, WalletAddress: *wallet})
}

func cmdRename(ctx context.Context, a *app, args []string) error {
	fs := flagSet("rename")
	tribe := fs.String("tribe", "", "tribe id")
	name := fs.String("name", "", "new name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.UpdateTribeName(ctx, &tribesv1.UpdateTribeNameRequest{TribeID: *tribe, Name: *name})
	if err != nil {
		return err
	}
	fmt.Println(resp.Name)
	return nil
}

// ------- messages -------

func findTribe(ctx context.Context, cli *tribesv1.Client, id string) (tribesv1.Tribe, error) {
	resp, err := cli.GetTribes(ctx)
	if err != nil {
		return tribesv1.Tribe{}, err
	}
	for _, t := range resp.Tribes {
		if t.ID == id {
			return t, nil
		}
	}
	return tribesv1.Tribe{}, fmt.Errorf("not a member of tribe %s", id)
}

// sealMessage encrypts text and caption under a fresh content key wrapped for every
// member that has published a public key.
func sealMessage(t tribesv1.Tribe, text, caption string) (*tribesv1.PostMessageRequest, error) {
	key, err := clientcrypto.NewContentKey()
	if err != nil {
		return nil, err
	}
	body, err := clientcrypto.Seal(key, "body", t.ID, []byte(text))
	if err != nil {
		return nil, err
	}
	req := &tribesv1.PostMessageRequest{
		TribeID:          t.ID,
		TribeTimestampID: t.TimestampID,
		Body:             base64.StdEncoding.EncodeToString(body),
		Type:             "text",
	}
	if caption != "" {
		c, err := clientcrypto.Seal(key, "caption", t.ID, []byte(caption))
		if err != nil {
			return nil, err
		}
		req.Caption = base64.StdEncoding.EncodeToString(c)
	}
	for _, m := range t.Members {
		if m.PublicKey == "" {
			continue
		}
		wrapped, err := clientcrypto.WrapKey(m.PublicKey, key)
		if err != nil {
			return nil, fmt.Errorf("wrap key for %s: %w", m.WalletAddress, err)
		}
		req.Keys = append(req.Keys, tribesv1.MessageKey{PublicKey: m.PublicKey, EncryptionKey: wrapped})
	}
	return req, nil
}

// openMessage decrypts the body and caption of m with the key wrapped for priv.
// System events are stored in clear text.
func openMessage(priv *ecdsa.PrivateKey, m tribesv1.Message) (text, caption string, err error) {
	if m.Type == "systemEvent" || m.Deleted {
		return m.Body, "", nil
	}
	pub := clientcrypto.PublicKeyHex(priv)
	var wrapped string
	for _, k := range m.Keys {
		if k.PublicKey == pub {
			wrapped = k.EncryptionKey
		}
	}
	if wrapped == "" {
		return "", "", errors.New("no key for this device")
	}
	key, err := clientcrypto.UnwrapKey(priv, wrapped)
	if err != nil {
		return "", "", err
	}
	open := func(purpose, s string) (string, error) {
		if s == "" {
			return "", nil
		}
		blob, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		pt, err := clientcrypto.Open(key, purpose, m.TribeID, blob)
		return string(pt), err
	}
	if text, err = open("body", m.Body); err != nil {
		return "", "", err
	}
	caption, err = open("caption", m.Caption)
	return text, caption, err
}

func cmdPost(ctx context.Context, a *app, args []string) error {
	fs := flagSet("post")
	tribe := fs.String("tribe", "", "tribe id")
	text := fs.String("text", "", "message text")
	caption := fs.String("caption", "", "caption")
	tea := fs.Bool("tea", false, "post as tea")
	reply := fs.String("reply", "", "id of the message replied to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := required("tribe", *tribe, "text", *text); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()

	t, err := findTribe(ctx, cli, *tribe)
	if err != nil {
		return err
	}
	req, err := sealMessage(t, *text, *caption)
	if err != nil {
		return err
	}
	req.ContextID = *reply
	if *tea {
		req.Tag = "tea"
	}
	m, err := cli.PostMessage(ctx, req)
	if err != nil {
		return err
	}
	fmt.Println(m.ID)
	return nil
}

type messageRow struct {
	ID        string              `json:"id"`
	From      string              `json:"from,omitempty"`
	Tag       string              `json:"tag"`
	Text      string              `json:"text,omitempty"`
	Caption   string              `json:"caption,omitempty"`
	Error     string              `json:"error,omitempty"`
	ReplyTo   string              `json:"replyTo,omitempty"`
	Reactions []tribesv1.Reaction `json:"reactions,omitempty"`
	At        string              `json:"at"`
}

func cmdRead(ctx context.Context, a *app, args []string) error {
	fs := flagSet("read")
	tribe := fs.String("tribe", "", "tribe id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	priv, err := a.wallet()
	if err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.GetMessages(ctx, &tribesv1.GetMessagesRequest{TribeID: *tribe})
	if err != nil {
		return err
	}
	rows := make([]messageRow, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		r := messageRow{
			ID:        m.ID,
			From:      m.SenderWalletAddress,
			Tag:       m.Tag,
			Reactions: m.Reactions,
			At:        m.TimeStamp.Format("2006-01-02 15:04:05"),
		}
		if m.Context != nil {
			r.ReplyTo = m.Context.ID
		}
		if r.Text, r.Caption, err = openMessage(priv, m); err != nil {
			r.Error = err.Error()
		}
		rows = append(rows, r)
	}
	printJSON(rows)
	return nil
}

func messageFlag(name string, args []string) (string, error) {
	fs := flagSet(name)
	id := fs.String("id", "", "message id")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return *id, required("id", *id)
}

func cmdDeleteMessage(ctx context.Context, a *app, args []string) error {
	id, err := messageFlag("rm-msg", args)
	if err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.DeleteMessage(ctx, &tribesv1.MessageRequest{MessageID: id})
}

func cmdViewed(ctx context.Context, a *app, args []string) error {
	id, err := messageFlag("viewed", args)
	if err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.MarkAsViewed(ctx, &tribesv1.MessageRequest{MessageID: id})
}

func cmdViewers(ctx context.Context, a *app, args []string) error {
	id, err := messageFlag("viewers", args)
	if err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.GetViewers(ctx, &tribesv1.MessageRequest{MessageID: id})
	if err != nil {
		return err
	}
	printJSON(resp.WalletAddresses)
	return nil
}

func cmdReact(ctx context.Context, a *app, args []string) error {
	fs := flagSet("react")
	id := fs.String("id", "", "message id")
	content := fs.String("content", "", "reaction")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	return cli.AddReaction(ctx, &tribesv1.AddReactionRequest{MessageID: *id, Content: *content})
}

func cmdTea(ctx context.Context, a *app, _ []string) error {
	cc, cli, err := a.client(true)
	if err != nil {
		return err
	}
	defer cc.Close()
	resp, err := cli.GetAllowedTeaRecipients(ctx)
	if err != nil {
		return err
	}
	printJSON(resp.TribeIDs)
	return nil
}
