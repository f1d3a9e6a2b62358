package user

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/notepid/twilight_pm/internal/db"
)

// ErrNotFound is returned when no member matches.
var ErrNotFound = errors.New("member not found")

// ErrBadPassword is returned by Authenticate for a wrong password.
var ErrBadPassword = errors.New("invalid password")

const defaultPasswordCost = 12

// Repo handles database operations for members.
type Repo struct {
	db   *sql.DB
	cost int
}

// NewRepo creates a new member repository.
func NewRepo(db *sql.DB) *Repo {
	return &Repo{db: db, cost: defaultPasswordCost}
}

// SetPasswordCost changes the bcrypt cost of newly stored hashes. Hashes
// with another cost are rewritten on the member's next login.
func (r *Repo) SetPasswordCost(cost int) {
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	r.cost = cost
}

func (r *Repo) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), r.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

const memberColumns = `
	id_member, member_name, real_name, email_address, password_hash,
	id_group, id_post_group, additional_groups, is_activated, lngfile,
	pm_email_notify, receive_from, buddy_list, pm_ignore_list,
	personal_messages, unread_messages, sent_messages, new_pm,
	pm_remove_inbox_label, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (*Member, error) {
	m := &Member{}
	var additional, buddies, ignored string
	var created sql.NullTime
	err := row.Scan(
		&m.ID, &m.Name, &m.RealName, &m.Email, &m.PasswordHash,
		&m.PrimaryGroup, &m.PostGroup, &additional, &m.Activation, &m.Language,
		&m.NotifyMode, &m.ReceiveFrom, &buddies, &ignored,
		&m.Messages, &m.Unread, &m.Sent, &m.NewPM,
		&m.RemoveInboxLabel, &created,
	)
	if err != nil {
		return nil, err
	}
	m.AdditionalGroups = parseIDList(additional)
	m.Buddies = parseIDList(buddies)
	m.Ignored = parseIDList(ignored)
	if created.Valid {
		m.CreatedAt = created.Time
	}
	return m, nil
}

// Create inserts a new member with a hashed password.
func (r *Repo) Create(name, password, realName, email string) (*Member, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create member: empty name")
	}
	realName = strings.TrimSpace(realName)
	hash, err := r.hashPassword(password)
	if err != nil {
		return nil, err
	}

	result, err := r.db.Exec(`
		INSERT INTO members (member_name, name_folded, real_name, real_name_folded, email_address, password_hash)
		VALUES (?, ?, ?, ?, ?, ?)
	`, name, db.FoldName(name), realName, db.FoldName(realName), strings.TrimSpace(email), hash)
	if err != nil {
		return nil, fmt.Errorf("create member %s: %w", name, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get member id: %w", err)
	}

	return r.GetByID(int(id))
}

// Authenticate checks name/password and returns the member if valid.
func (r *Repo) Authenticate(name, password string) (*Member, error) {
	m, err := r.GetByName(name)
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", name, ErrNotFound)
	}
	err = bcrypt.CompareHashAndPassword([]byte(m.PasswordHash), []byte(password))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return nil, ErrBadPassword
	}
	if err != nil {
		return nil, fmt.Errorf("authenticate %s: %w", name, err)
	}
	if cost, err := bcrypt.Cost([]byte(m.PasswordHash)); err == nil && cost != r.cost {
		if err := r.UpdatePassword(m.ID, password); err != nil {
			log.Printf("user: rehash password of %s: %v", m.Name, err)
		}
	}
	return m, nil
}

// GetByID retrieves a member by id.
func (r *Repo) GetByID(id int) (*Member, error) {
	m, err := scanMember(r.db.QueryRow("SELECT "+memberColumns+" FROM members WHERE id_member = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get member %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get member %d: %w", id, err)
	}
	return m, nil
}

// GetByName retrieves a member by login name, compared case-folded.
func (r *Repo) GetByName(name string) (*Member, error) {
	m, err := scanMember(r.db.QueryRow("SELECT "+memberColumns+" FROM members WHERE name_folded = ?", db.FoldName(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get member %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get member %s: %w", name, err)
	}
	return m, nil
}

// List returns all members, ordered by name.
func (r *Repo) List() ([]*Member, error) {
	rows, err := r.db.Query("SELECT " + memberColumns + " FROM members ORDER BY member_name")
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []*Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *Repo) update(id int, what, query string, args ...any) error {
	res, err := r.db.Exec(query, append(args, id)...)
	if err != nil {
		return fmt.Errorf("update %s of member %d: %w", what, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s of member %d: %w", what, id, err)
	}
	if n == 0 {
		return fmt.Errorf("update %s of member %d: %w", what, id, ErrNotFound)
	}
	return nil
}

// SetGroups changes the primary and additional groups of a member.
func (r *Repo) SetGroups(id, primary int, additional []int) error {
	return r.update(id, "groups", "UPDATE members SET id_group = ?, additional_groups = ? WHERE id_member = ?",
		primary, formatIDList(additional))
}

// SetPostGroup changes the post-count group of a member.
func (r *Repo) SetPostGroup(id, group int) error {
	return r.update(id, "post group", "UPDATE members SET id_post_group = ? WHERE id_member = ?", group)
}

// SetActivation changes the activation state (1 active, 4 pending deletion, 10+ banned).
func (r *Repo) SetActivation(id, state int) error {
	return r.update(id, "activation", "UPDATE members SET is_activated = ? WHERE id_member = ?", state)
}

// SetNotify changes the new-message email preference.
func (r *Repo) SetNotify(id, mode int) error {
	if mode < 0 || mode > 2 {
		return fmt.Errorf("set notify of member %d: invalid mode %d", id, mode)
	}
	return r.update(id, "notify", "UPDATE members SET pm_email_notify = ? WHERE id_member = ?", mode)
}

// SetReceiveFrom changes who may message the member.
func (r *Repo) SetReceiveFrom(id, policy int) error {
	if policy < 0 || policy > 3 {
		return fmt.Errorf("set receive_from of member %d: invalid policy %d", id, policy)
	}
	return r.update(id, "receive_from", "UPDATE members SET receive_from = ? WHERE id_member = ?", policy)
}

// SetBuddies replaces the buddy list.
func (r *Repo) SetBuddies(id int, buddies []int) error {
	return r.update(id, "buddies", "UPDATE members SET buddy_list = ? WHERE id_member = ?", formatIDList(buddies))
}

// SetIgnoreList replaces the list of members whose messages are refused.
func (r *Repo) SetIgnoreList(id int, ignored []int) error {
	return r.update(id, "ignore list", "UPDATE members SET pm_ignore_list = ? WHERE id_member = ?", formatIDList(ignored))
}

// SetRemoveInboxLabel sets whether labelling a message takes it out of the inbox.
func (r *Repo) SetRemoveInboxLabel(id int, remove bool) error {
	return r.update(id, "inbox label option", "UPDATE members SET pm_remove_inbox_label = ? WHERE id_member = ?", remove)
}

// SetEmail changes the notification address and language.
func (r *Repo) SetEmail(id int, email, language string) error {
	return r.update(id, "email", "UPDATE members SET email_address = ?, lngfile = ? WHERE id_member = ?",
		strings.TrimSpace(email), strings.TrimSpace(language))
}

// UpdatePassword changes a member's password.
func (r *Repo) UpdatePassword(id int, newPassword string) error {
	hash, err := r.hashPassword(newPassword)
	if err != nil {
		return err
	}
	return r.update(id, "password", "UPDATE members SET password_hash = ? WHERE id_member = ?", hash)
}
