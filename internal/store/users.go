package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// User is an account plus the founder profile used to personalise answers.
type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	PasswordHash       string    `json:"-"`
	Name               string    `json:"name,omitempty"`
	Role               string    `json:"role,omitempty"`
	CompanyName        string    `json:"company_name,omitempty"`
	CompanyStage       string    `json:"company_stage,omitempty"`
	Industry           string    `json:"industry,omitempty"`
	TeamSize           string    `json:"team_size,omitempty"`
	CurrentChallenges  string    `json:"current_challenges,omitempty"`
	Goals              string    `json:"goals,omitempty"`
	OnboardingComplete bool      `json:"onboarding_complete"`
	CreatedAt          time.Time `json:"created_at"`
	LastActiveAt       time.Time `json:"last_active_at"`
}

// ProfileUpdate carries optional profile changes; nil fields are left alone.
type ProfileUpdate struct {
	Name              *string `json:"name"`
	Role              *string `json:"role"`
	CompanyName       *string `json:"company_name"`
	CompanyStage      *string `json:"company_stage"`
	Industry          *string `json:"industry"`
	TeamSize          *string `json:"team_size"`
	CurrentChallenges *string `json:"current_challenges"`
	Goals             *string `json:"goals"`
}

// Apply copies the set fields onto u and recomputes onboarding completion.
func (p ProfileUpdate) Apply(u *User) {
	set := func(dst *string, v *string) {
		if v != nil {
			*dst = strings.TrimSpace(*v)
		}
	}
	set(&u.Name, p.Name)
	set(&u.Role, p.Role)
	set(&u.CompanyName, p.CompanyName)
	set(&u.CompanyStage, p.CompanyStage)
	set(&u.Industry, p.Industry)
	set(&u.TeamSize, p.TeamSize)
	set(&u.CurrentChallenges, p.CurrentChallenges)
	set(&u.Goals, p.Goals)
	if u.CompanyName != "" && u.Goals != "" {
		u.OnboardingComplete = true
	}
}

const userColumns = `id, email, password_hash, name, role, company_name, company_stage, industry, team_size, current_challenges, goals, onboarding_complete, created_at, last_active_at`

func scanUser(row interface{ Scan(...any) error }) (User, error) {
	var u User
	var name, role, company, stage, industry, team, challenges, goals sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &name, &role, &company, &stage, &industry, &team, &challenges, &goals, &u.OnboardingComplete, &u.CreatedAt, &u.LastActiveAt)
	if err != nil {
		return User{}, err
	}
	u.Name, u.Role, u.CompanyName, u.CompanyStage = name.String, role.String, company.String, stage.String
	u.Industry, u.TeamSize, u.CurrentChallenges, u.Goals = industry.String, team.String, challenges.String, goals.String
	return u, nil
}

// CreateUser inserts a new account. A duplicate email surfaces as a unique violation.
func (s *Store) CreateUser(ctx context.Context, email, hash, name string) (User, error) {
	row := s.DB.QueryRowContext(ctx,
		`INSERT INTO users (email, password_hash, name) VALUES ($1,$2,$3) RETURNING `+userColumns,
		strings.ToLower(strings.TrimSpace(email)), hash, nullString(strings.TrimSpace(name)))
	return scanUser(row)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email=$1`, strings.ToLower(strings.TrimSpace(email)))
	u, err := scanUser(row)
	return u, notFound(err)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (User, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=$1`, id)
	u, err := scanUser(row)
	return u, notFound(err)
}

// UpdateProfile applies upd to the stored user and returns the updated row.
func (s *Store) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (User, error) {
	u, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return User{}, err
	}
	upd.Apply(&u)
	row := s.DB.QueryRowContext(ctx, `UPDATE users SET name=$2, role=$3, company_name=$4, company_stage=$5, industry=$6, team_size=$7, current_challenges=$8, goals=$9, onboarding_complete=$10, last_active_at=now() WHERE id=$1 RETURNING `+userColumns,
		userID, nullString(u.Name), nullString(u.Role), nullString(u.CompanyName), nullString(u.CompanyStage), nullString(u.Industry), nullString(u.TeamSize), nullString(u.CurrentChallenges), nullString(u.Goals), u.OnboardingComplete)
	updated, err := scanUser(row)
	return updated, notFound(err)
}
