package commands

import (
	"os"
	"slices"
	"strconv"
	"time"

	ferrors "git.home.luguber.info/inful/clashchain/internal/foundation/errors"
	"git.home.luguber.info/inful/clashchain/internal/profile"
)

// ProfilesCmd groups the profile subcommands.
type ProfilesCmd struct {
	List   ProfilesListCmd   `cmd:"" default:"1" help:"List profiles in chain order"`
	Add    ProfilesAddCmd    `cmd:"" help:"Add a profile to the end of the chain"`
	Update ProfilesUpdateCmd `cmd:"" help:"Replace the source of a profile"`
	Remove ProfilesRemoveCmd `cmd:"" help:"Remove a profile"`
	Order  ProfilesOrderCmd  `cmd:"" help:"Set the chain order"`
}

func (c *CLI) profileStore(g *Global) (*profile.Store, error) {
	cfg, err := c.loadConfig(g)
	if err != nil {
		return nil, err
	}
	return profile.Open(cfg.ProfilesIndexPath(), cfg.ProfilesDir()), nil
}

func readSource(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "failed to read profile source").
			WithContext("path", path).
			Build()
	}
	return data, nil
}

// ProfilesListCmd implements 'profiles list'.
type ProfilesListCmd struct{}

func (c *ProfilesListCmd) Run(g *Global, root *CLI) error {
	store, err := root.profileStore(g)
	if err != nil {
		return err
	}
	items, err := store.List()
	if err != nil {
		return err
	}
	chained, err := store.Chain()
	if err != nil {
		return err
	}
	order := make([]string, 0, len(chained))
	for _, it := range chained {
		order = append(order, it.UID)
	}
	for _, it := range items {
		pos := "-"
		if i := slices.Index(order, it.UID); i >= 0 {
			pos = strconv.Itoa(i + 1)
		}
		printf(g, "%s  %-36s  %-6s  %-20s  %s\n", pos, it.UID, it.Type, it.UnitName(), time.Unix(it.Updated, 0).Local().Format(time.RFC3339))
	}
	return nil
}

// ProfilesAddCmd implements 'profiles add'.
type ProfilesAddCmd struct {
	Type string `required:"" enum:"merge,script" help:"Profile type (merge or script)"`
	Name string `required:"" help:"Unit name shown in chain logs"`
	File string `type:"existingfile" help:"Source file; a template is used when omitted"`
	Desc string `help:"Free-form description"`
}

func (c *ProfilesAddCmd) Run(g *Global, root *CLI) error {
	kind, err := profile.ParseType(c.Type)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid profile type").Build()
	}
	src := profile.Template(kind)
	if c.File != "" {
		if src, err = readSource(c.File); err != nil {
			return err
		}
	}
	store, err := root.profileStore(g)
	if err != nil {
		return err
	}
	item, err := store.Append(profile.Item{Name: c.Name, Type: kind, Desc: c.Desc}, src)
	if err != nil {
		return err
	}
	printf(g, "added %s (%s)\n", item.UID, item.Name)
	return nil
}

// ProfilesUpdateCmd implements 'profiles update'.
type ProfilesUpdateCmd struct {
	UID  string `arg:"" help:"Profile UID"`
	File string `required:"" type:"existingfile" help:"New source file"`
}

func (c *ProfilesUpdateCmd) Run(g *Global, root *CLI) error {
	src, err := readSource(c.File)
	if err != nil {
		return err
	}
	store, err := root.profileStore(g)
	if err != nil {
		return err
	}
	item, err := store.Update(c.UID, src)
	if err != nil {
		return err
	}
	printf(g, "updated %s (%s)\n", item.UID, item.Name)
	return nil
}

// ProfilesRemoveCmd implements 'profiles remove'.
type ProfilesRemoveCmd struct {
	UID string `arg:"" help:"Profile UID"`
}

func (c *ProfilesRemoveCmd) Run(g *Global, root *CLI) error {
	store, err := root.profileStore(g)
	if err != nil {
		return err
	}
	if err := store.Remove(c.UID); err != nil {
		return err
	}
	printf(g, "removed %s\n", c.UID)
	return nil
}

// ProfilesOrderCmd implements 'profiles order'.
type ProfilesOrderCmd struct {
	UIDs []string `arg:"" help:"Profile UIDs in execution order"`
}

func (c *ProfilesOrderCmd) Run(g *Global, root *CLI) error {
	store, err := root.profileStore(g)
	if err != nil {
		return err
	}
	return store.SetChain(c.UIDs)
}
